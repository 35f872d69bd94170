package attribution

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapture(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := NewMemory()

	q, err := url.ParseQuery("utm_source=ig&utm_medium=&gclid=zzz&fbclid=abc")
	require.NoError(t, err)

	got, err := Capture(ctx, kv, "v1", q)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"utm_source": "ig", "utm_medium": "", "fbclid": "abc"}, got)

	// A later visit overwrites only what it carries.
	_, err = Capture(ctx, kv, "v1", url.Values{"utm_source": {"fb"}})
	require.NoError(t, err)

	stored, err := Stored(ctx, kv, "v1")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"utm_source": "fb", "fbclid": "abc"}, stored)
}

func TestCapture_NothingTracked(t *testing.T) {
	t.Parallel()
	got, err := Capture(context.Background(), failingKV{}, "v1", url.Values{"ref": {"x"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCapture_StoreError(t *testing.T) {
	t.Parallel()
	_, err := Capture(context.Background(), failingKV{}, "v1", url.Values{"utm_source": {"ig"}})
	assert.Error(t, err)

	_, err = Stored(context.Background(), failingKV{}, "v1")
	assert.Error(t, err)
}

func TestCheckoutURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		base    string
		tags    map[string]string
		profile string
		want    string
	}{
		{
			name:    "source and profile",
			base:    "https://pay.ticto.com.br/CHECKOUT_ID",
			tags:    map[string]string{"utm_source": "ig"},
			profile: "Empresário em Expansão",
			want:    "https://pay.ticto.com.br/CHECKOUT_ID?utm_source=ig&perfil=Empres%C3%A1rio+em+Expans%C3%A3o",
		},
		{
			name:    "key order is fixed",
			base:    "https://pay.example.com/c",
			tags:    map[string]string{"fbclid": "f", "utm_campaign": "c", "utm_source": "s"},
			profile: "X",
			want:    "https://pay.example.com/c?utm_source=s&utm_campaign=c&fbclid=f&perfil=X",
		},
		{
			name:    "existing query kept",
			base:    "https://pay.example.com/c?offer=1",
			tags:    nil,
			profile: "Y",
			want:    "https://pay.example.com/c?offer=1&perfil=Y",
		},
		{
			name:    "empty tags skipped",
			base:    "https://pay.example.com/c",
			tags:    map[string]string{"utm_source": ""},
			profile: "",
			want:    "https://pay.example.com/c?perfil=",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := CheckoutURL(tt.base, tt.tags, tt.profile)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckoutURL_Invalid(t *testing.T) {
	t.Parallel()
	_, err := CheckoutURL("://bad", nil, "p")
	assert.Error(t, err)

	_, err = CheckoutURL("/relative/path", nil, "p")
	assert.Error(t, err)
}

type failingKV struct{}

func (failingKV) SetAttribution(context.Context, string, map[string]string) error {
	return errors.New("down")
}

func (failingKV) GetAttribution(context.Context, string) (map[string]string, error) {
	return nil, errors.New("down")
}
