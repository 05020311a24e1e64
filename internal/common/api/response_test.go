package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleRequest struct {
	Email string `json:"customer_email" validate:"required,email"`
	Count int    `json:"count" validate:"min=1"`
}

func TestDecodeAndValidate_ReportsJSONFieldNames(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"customer_email":"nope","count":0}`))

	var body sampleRequest
	err := DecodeAndValidate(req, &body)
	require.Error(t, err)

	rec := httptest.NewRecorder()
	ValidationError(rec, err)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp Response[any]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Equal(t, "Must be a valid email address", resp.Error.Details["customer_email"])
	assert.Equal(t, "Must be at least 1", resp.Error.Details["count"])
}

func TestDecodeAndValidate_MalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	var body sampleRequest
	assert.ErrorIs(t, DecodeAndValidate(req, &body), ErrMalformedBody)
}

func TestLimitParam(t *testing.T) {
	tests := map[string]int{
		"":          20,
		"?limit=5":  5,
		"?limit=0":  20,
		"?limit=x":  20,
		"?limit=99": 50,
	}
	for query, want := range tests {
		req := httptest.NewRequest(http.MethodGet, "/transactions"+query, nil)
		assert.Equal(t, want, LimitParam(req, 20, 50), query)
	}
}

func TestWriteData(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, http.StatusCreated, map[string]string{"id": "tx_1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"data":{"id":"tx_1"}}`, rec.Body.String())
}

func TestWriteList_EmptyIsArray(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteList[string](rec, http.StatusOK, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	WriteList(rec, http.StatusOK, []string{"a"})
	assert.JSONEq(t, `{"data":["a"]}`, rec.Body.String())
}
