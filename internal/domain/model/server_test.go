//revive:disable-next-line:var-naming // legacy package name widely used across the project
package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int       { return &n }
func int64Ptr(n int64) *int64 { return &n }
func boolPtr(b bool) *bool    { return &b }

func TestCreateServerRequest_Validate_Remote(t *testing.T) {
	req := &CreateServerRequest{
		Name:     "web1",
		Hostname: strPtr("web1.example.com"),
		Username: strPtr("deploy"),
	}
	require.NoError(t, req.Validate())
	require.NotNil(t, req.Port)
	assert.Equal(t, 22, *req.Port)
}

func TestCreateServerRequest_Validate_RemoteMissingFields(t *testing.T) {
	tests := []struct {
		name string
		req  CreateServerRequest
		msg  string
	}{
		{
			name: "missing hostname",
			req:  CreateServerRequest{Name: "web1", Username: strPtr("deploy")},
			msg:  "hostname is required for remote servers",
		},
		{
			name: "missing username",
			req:  CreateServerRequest{Name: "web1", Hostname: strPtr("web1.example.com")},
			msg:  "username is required for remote servers",
		},
		{
			name: "blank hostname",
			req:  CreateServerRequest{Name: "web1", Hostname: strPtr("  "), Username: strPtr("deploy")},
			msg:  "hostname is required for remote servers",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestCreateServerRequest_Validate_Local(t *testing.T) {
	req := &CreateServerRequest{Name: "localhost", IsLocal: true}
	assert.NoError(t, req.Validate())

	withHost := &CreateServerRequest{Name: "localhost", IsLocal: true, Hostname: strPtr("example.com")}
	err := withHost.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local servers cannot have a hostname")

	withUser := &CreateServerRequest{Name: "localhost", IsLocal: true, Username: strPtr("root")}
	err = withUser.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local servers cannot have an ssh username")
}

func TestCreateServerRequest_Validate_Port(t *testing.T) {
	req := &CreateServerRequest{
		Name:     "web1",
		Hostname: strPtr("web1.example.com"),
		Username: strPtr("deploy"),
		Port:     intPtr(70000),
	}
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port must be between 1 and 65535")
}

func TestCreateServerRequest_Validate_Tags(t *testing.T) {
	req := &CreateServerRequest{
		Name:     "web1",
		Hostname: strPtr("web1.example.com"),
		Username: strPtr("deploy"),
		TagNames: []string{"prod", "prod"},
	}
	err := req.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestUpdateServerRequest_Validate(t *testing.T) {
	empty := &UpdateServerRequest{}
	err := empty.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one field")

	ok := &UpdateServerRequest{Enabled: boolPtr(false)}
	assert.NoError(t, ok.Validate())

	blankName := &UpdateServerRequest{Name: strPtr("  ")}
	assert.Error(t, blankName.Validate())
}

func TestServer_Address(t *testing.T) {
	s := &Server{Hostname: strPtr("web1.example.com"), Port: 2222}
	assert.Equal(t, "web1.example.com:2222", s.Address())

	v6 := &Server{Hostname: strPtr("fd00::10"), Port: 22}
	assert.Equal(t, "[fd00::10]:22", v6.Address())
}
