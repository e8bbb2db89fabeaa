package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptors_WhenValidListing_ReturnsEntries(t *testing.T) {
	t.Parallel()

	body := `{"tunnels":[
		{"name":"command_line","proto":"https","public_url":"https://abc.ngrok.io","config":{"addr":"http://localhost:3030","inspect":true}},
		{"name":"command_line (http)","proto":"http","public_url":"http://abc.ngrok.io","config":{"addr":"localhost:3030"}}
	],"uri":"/api/tunnels"}`

	descs, err := ParseDescriptors([]byte(body))
	require.NoError(t, err)
	require.Len(t, descs, 2)

	assert.Equal(t, uint16(3030), descs[0].LocalPort())
	assert.Equal(t, SchemeHTTPS, descs[0].Scheme())
	assert.Equal(t, "command_line", descs[0].Name)
	assert.Equal(t, uint16(3030), descs[1].LocalPort())
	assert.Equal(t, SchemeHTTP, descs[1].Scheme())
}

func TestParseDescriptors_WhenAddrIsBarePort_ParsesPort(t *testing.T) {
	t.Parallel()

	descs, err := ParseDescriptors([]byte(`{"tunnels":[{"public_url":"http://x.ngrok.io","config":{"addr":"8080"}}]}`))
	require.NoError(t, err)
	require.Len(t, descs, 1)
	assert.Equal(t, uint16(8080), descs[0].LocalPort())
}

func TestParseDescriptors_WhenOtherEntryHasNoPort_KeepsListing(t *testing.T) {
	t.Parallel()

	body := `{"tunnels":[
		{"name":"files","proto":"https","public_url":"https://files.ngrok.io","config":{"addr":"file:///srv/www"}},
		{"name":"site","proto":"http","public_url":"http://site.ngrok.io","config":{"addr":"http://localhost"}},
		{"name":"bad port","proto":"http","public_url":"http://bad.ngrok.io","config":{"addr":"localhost:99999"}},
		{"name":"app","proto":"https","public_url":"https://app.ngrok.io","config":{"addr":"localhost:3030"}}
	]}`

	descs, err := ParseDescriptors([]byte(body))
	require.NoError(t, err)
	require.Len(t, descs, 4)
	assert.Equal(t, uint16(0), descs[0].LocalPort())
	assert.Equal(t, uint16(0), descs[1].LocalPort())
	assert.Equal(t, uint16(0), descs[2].LocalPort())

	rec, ok := Match(descs, 3030, []Scheme{SchemeHTTPS})
	require.True(t, ok)
	assert.Equal(t, "https://app.ngrok.io", rec.HTTPS.String())

	_, ok = Match(descs, 0, []Scheme{SchemeHTTPS})
	assert.False(t, ok, "entries without a port never match")
}

func TestParseDescriptors_WhenEmptyList_ReturnsNoEntries(t *testing.T) {
	t.Parallel()

	descs, err := ParseDescriptors([]byte(`{"tunnels":[]}`))
	require.NoError(t, err)
	assert.Empty(t, descs)
}

func TestParseDescriptors_WhenShapeIsWrong_ReturnsMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":           `<html>`,
		"missing tunnels":    `{"uri":"/api/tunnels"}`,
		"tunnels not a list": `{"tunnels":{"a":1}}`,
		"missing public_url": `{"tunnels":[{"config":{"addr":"localhost:3030"}}]}`,
		"missing config":     `{"tunnels":[{"public_url":"http://x.ngrok.io"}]}`,
		"missing addr":       `{"tunnels":[{"public_url":"http://x.ngrok.io","config":{}}]}`,
		"addr not a string":  `{"tunnels":[{"public_url":"http://x.ngrok.io","config":{"addr":3030}}]}`,
		"relative public":    `{"tunnels":[{"public_url":"x.ngrok.io","config":{"addr":"3030"}}]}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseDescriptors([]byte(body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func mustParse(t *testing.T, body string) []Descriptor {
	t.Helper()
	descs, err := ParseDescriptors([]byte(body))
	require.NoError(t, err)
	return descs
}

func TestMatch_WhenOtherPortsAdvertised_PicksRequestedPort(t *testing.T) {
	t.Parallel()

	descs := mustParse(t, `{"tunnels":[
		{"public_url":"http://other.ngrok.io","config":{"addr":"localhost:9999"}},
		{"public_url":"http://mine.ngrok.io","config":{"addr":"localhost:3030"}}
	]}`)

	rec, ok := Match(descs, 3030, []Scheme{SchemeHTTP})
	require.True(t, ok)
	assert.Equal(t, "http://mine.ngrok.io", rec.HTTP.String())
	assert.Nil(t, rec.HTTPS)
	assert.Equal(t, uint16(3030), rec.LocalPort)
}

func TestMatch_WhenOnlyHTTPSAdvertised_DoesNotSatisfyHTTP(t *testing.T) {
	t.Parallel()

	descs := mustParse(t, `{"tunnels":[{"public_url":"https://a.ngrok.io","config":{"addr":"3030"}}]}`)

	_, ok := Match(descs, 3030, []Scheme{SchemeHTTP})
	assert.False(t, ok)

	rec, ok := Match(descs, 3030, []Scheme{SchemeHTTPS})
	require.True(t, ok)
	assert.Equal(t, "https://a.ngrok.io", rec.HTTPS.String())
}

func TestMatch_WhenOnlyHTTPAdvertised_DoesNotSatisfyHTTPS(t *testing.T) {
	t.Parallel()

	descs := mustParse(t, `{"tunnels":[{"public_url":"http://a.ngrok.io","config":{"addr":"3030"}}]}`)

	_, ok := Match(descs, 3030, []Scheme{SchemeHTTPS})
	assert.False(t, ok)
}

func TestMatch_WhenBothRequested_RequiresBoth(t *testing.T) {
	t.Parallel()

	both := []Scheme{SchemeHTTP, SchemeHTTPS}

	partial := mustParse(t, `{"tunnels":[{"public_url":"https://a.ngrok.io","config":{"addr":"3030"}}]}`)
	_, ok := Match(partial, 3030, both)
	assert.False(t, ok)

	full := mustParse(t, `{"tunnels":[
		{"public_url":"https://a.ngrok.io","config":{"addr":"3030"}},
		{"public_url":"http://a.ngrok.io","config":{"addr":"3030"}}
	]}`)
	rec, ok := Match(full, 3030, both)
	require.True(t, ok)
	assert.Equal(t, "http://a.ngrok.io", rec.URL(SchemeHTTP).String())
	assert.Equal(t, "https://a.ngrok.io", rec.URL(SchemeHTTPS).String())
}

func TestMatch_WhenNoSchemesRequested_ReportsNoMatch(t *testing.T) {
	t.Parallel()

	descs := mustParse(t, `{"tunnels":[{"public_url":"http://a.ngrok.io","config":{"addr":"3030"}}]}`)
	_, ok := Match(descs, 3030, nil)
	assert.False(t, ok)
}

func TestScheme_Valid(t *testing.T) {
	t.Parallel()

	assert.True(t, SchemeHTTP.Valid())
	assert.True(t, SchemeHTTPS.Valid())
	assert.False(t, Scheme("tcp").Valid())
	assert.False(t, Scheme("").Valid())
}
