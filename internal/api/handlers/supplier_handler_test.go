package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supply-risk/backend/internal/storage/sqlite"
)

type fakeChunkDeleter struct {
	deleted []string
}

func (f *fakeChunkDeleter) DeleteByVendor(ctx context.Context, vendorID string) error {
	f.deleted = append(f.deleted, vendorID)
	return nil
}

func newSupplierApp(t *testing.T) (*fiber.App, *sqlite.Client, *fakeChunkDeleter) {
	t.Helper()

	db, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())

	deleter := &fakeChunkDeleter{}
	h := NewSupplierHandler(db, deleter)

	app := fiber.New()
	app.Get("/api/v1/suppliers", h.ListSuppliers)
	app.Post("/api/v1/suppliers", h.CreateSupplier)
	app.Put("/api/v1/suppliers/:id", h.UpdateSupplier)
	app.Delete("/api/v1/suppliers/:id", h.DeleteSupplier)
	return app, db, deleter
}

func jsonRequest(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func validSupplierBody() map[string]any {
	return map[string]any{
		"name":     "Acme Metals",
		"category": "raw_materials",
		"location": "Rotterdam",
	}
}

func TestCreateSupplier(t *testing.T) {
	app, db, _ := newSupplierApp(t)

	resp, body := jsonRequest(t, app, http.MethodPost, "/api/v1/suppliers", validSupplierBody())
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	supplier := body["supplier"].(map[string]any)
	id := supplier["id"].(string)
	assert.Regexp(t, `^SUP-[0-9A-F]{8}$`, id)
	assert.Equal(t, "Low", supplier["risk_level"])
	assert.Equal(t, true, supplier["active"])

	exists, err := db.SupplierExists(id)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateSupplierValidation(t *testing.T) {
	app, _, _ := newSupplierApp(t)

	resp, body := jsonRequest(t, app, http.MethodPost, "/api/v1/suppliers", map[string]any{
		"name": "No category or location",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
}

func TestUpdateSupplier(t *testing.T) {
	app, _, _ := newSupplierApp(t)

	_, created := jsonRequest(t, app, http.MethodPost, "/api/v1/suppliers", validSupplierBody())
	id := created["supplier"].(map[string]any)["id"].(string)

	update := validSupplierBody()
	update["name"] = "Acme Metals BV"
	update["active"] = false

	resp, body := jsonRequest(t, app, http.MethodPut, "/api/v1/suppliers/"+id, update)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	supplier := body["supplier"].(map[string]any)
	assert.Equal(t, "Acme Metals BV", supplier["name"])
	assert.Equal(t, false, supplier["active"])
}

func TestUpdateMissingSupplierIs404(t *testing.T) {
	app, _, _ := newSupplierApp(t)

	resp, _ := jsonRequest(t, app, http.MethodPut, "/api/v1/suppliers/SUP-MISSING", validSupplierBody())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteSupplierPurgesVectorChunks(t *testing.T) {
	app, db, deleter := newSupplierApp(t)

	_, created := jsonRequest(t, app, http.MethodPost, "/api/v1/suppliers", validSupplierBody())
	id := created["supplier"].(map[string]any)["id"].(string)

	resp, _ := jsonRequest(t, app, http.MethodDelete, "/api/v1/suppliers/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{id}, deleter.deleted)

	exists, err := db.SupplierExists(id)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDeleteMissingSupplierIs404(t *testing.T) {
	app, _, deleter := newSupplierApp(t)

	resp, _ := jsonRequest(t, app, http.MethodDelete, "/api/v1/suppliers/SUP-MISSING", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Empty(t, deleter.deleted)
}

func TestListSuppliers(t *testing.T) {
	app, _, _ := newSupplierApp(t)

	jsonRequest(t, app, http.MethodPost, "/api/v1/suppliers", validSupplierBody())

	second := validSupplierBody()
	second["name"] = "Beta Chemicals"
	jsonRequest(t, app, http.MethodPost, "/api/v1/suppliers", second)

	resp, body := jsonRequest(t, app, http.MethodGet, "/api/v1/suppliers", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["suppliers"], 2)
}
