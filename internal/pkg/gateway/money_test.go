package gateway

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatMajor(t *testing.T) {
	tests := []struct {
		amount int64
		code   string
		want   string
	}{
		{1999, "USD", "19.99"},
		{5, "EUR", "0.05"},
		{150000, "KES", "1500.00"},
		{5000, "XOF", "5000"},
		{-250, "usd", "-2.50"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d %s", tt.amount, tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMajor(tt.amount, tt.code))
		})
	}
}

func TestParseMajor(t *testing.T) {
	tests := []struct {
		in      string
		code    string
		want    int64
		wantErr bool
	}{
		{in: "19.99", code: "USD", want: 1999},
		{in: "1500", code: "KES", want: 150000},
		{in: "0.1", code: "USD", want: 10},
		{in: "5000", code: "XOF", want: 5000},
		{in: "9.990", code: "USD", want: 999},
		{in: "1.234", code: "USD", wantErr: true},
		{in: "", code: "USD", wantErr: true},
		{in: "abc", code: "USD", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in+" "+tt.code, func(t *testing.T) {
			got, err := ParseMajor(tt.in, tt.code)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		body   string
		want   error
	}{
		{200, "", nil},
		{429, "", ErrProviderUnavailable},
		{503, "", ErrProviderUnavailable},
		{401, "", ErrInvalidCredentials},
		{400, `{"message":"Invalid secret key passed"}`, ErrInvalidCredentials},
		{400, `{"message":"amount is required"}`, ErrRejected},
	}
	for _, tt := range tests {
		got := classifyStatus(tt.status, tt.body)
		if tt.want == nil {
			assert.NoError(t, got)
			continue
		}
		assert.True(t, errors.Is(got, tt.want), "status %d body %q", tt.status, tt.body)
	}
}
