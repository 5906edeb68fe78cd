package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kiroku/internal/model"
)

func TestNormalizeStatus(t *testing.T) {
	cases := map[int]int{
		0:    model.StatusUnknown,
		99:   model.StatusUnknown,
		100:  100,
		200:  200,
		599:  599,
		600:  model.StatusUnknown,
		-200: model.StatusUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, model.NormalizeStatus(in), "status %d", in)
	}
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, 201, model.ParseStatus("201"))
	assert.Equal(t, model.StatusUnknown, model.ParseStatus("OK"))
	assert.Equal(t, model.StatusUnknown, model.ParseStatus(""))
	assert.Equal(t, model.StatusUnknown, model.ParseStatus("1000"))
}

func TestCallRecordKey(t *testing.T) {
	r := model.CallRecord{Method: "POST", Endpoint: "/users"}
	assert.Equal(t, "POST /users", r.Key())
}

func TestIsSuccess(t *testing.T) {
	assert.True(t, model.IsSuccess(200))
	assert.True(t, model.IsSuccess(299))
	assert.False(t, model.IsSuccess(300))
	assert.False(t, model.IsSuccess(199))
	assert.False(t, model.IsSuccess(model.StatusUnknown))
}

func TestValidateRecordCall(t *testing.T) {
	ok := model.RecordCallRequest{Method: "GET", Endpoint: "/a", Status: 200}
	assert.NoError(t, model.ValidateRecordCall(ok))

	noMethod := ok
	noMethod.Method = ""
	assert.ErrorContains(t, model.ValidateRecordCall(noMethod), "method is required")

	longEndpoint := ok
	longEndpoint.Endpoint = "/" + strings.Repeat("x", model.MaxEndpointLen)
	assert.ErrorContains(t, model.ValidateRecordCall(longEndpoint), "endpoint exceeds")
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, model.ValidateName("project", "billing"))
	assert.ErrorContains(t, model.ValidateName("project", "  "), "project is required")
	assert.ErrorContains(t, model.ValidateName("subproject", strings.Repeat("s", model.MaxNameLen+1)), "subproject exceeds")
}

func TestSectionsEmpty(t *testing.T) {
	assert.True(t, model.Sections{}.Empty())
	assert.False(t, model.Sections{KeyIssues: "timeouts"}.Empty())
}
