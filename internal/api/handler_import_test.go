package api

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lpbf-planner/internal/inquiry"
)

const importFile = "inquiry_number,customer_number,machine,material,part_name,projected_area_cm2\n" +
	"INQ-1,C-1,M2,IN718,Bracket,10\n" +
	"INQ-1,C-1,M2,IN718,Cover,-4\n"

func TestImportParts_Multipart(t *testing.T) {
	ts := newTestServer(t, fixedEstimator{})

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	fw, err := form.CreateFormFile("file", "parts.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte(importFile))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/parts/import", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[inquiry.ImportResult](t, w)
	assert.Len(t, res.Imported, 1)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 3, res.Errors[0].Row)
}

func TestImportParts_RawBody(t *testing.T) {
	ts := newTestServer(t, fixedEstimator{})

	req := httptest.NewRequest(http.MethodPost, "/api/parts/import", strings.NewReader(importFile))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[inquiry.ImportResult](t, w).Imported, 1)

	req = httptest.NewRequest(http.MethodPost, "/api/parts/import", strings.NewReader("part_name\nBracket\n"))
	req.Header.Set("Content-Type", "text/csv")
	w = httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
