package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{"host and port", "opc.tcp://localhost:4840", "localhost:4840", false},
		{"default port", "opc.tcp://plc.example.com", "plc.example.com:4840", false},
		{"ip address", "opc.tcp://10.0.0.5:48010", "10.0.0.5:48010", false},
		{"wrong scheme", "http://localhost:4840", "", true},
		{"missing host", "opc.tcp://", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseEndpointURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr)
		})
	}
}
