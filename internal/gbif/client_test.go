package gbif

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/rion/birdsong-go/internal/conf"
	"github.com/rion/birdsong-go/internal/errors"
	"github.com/rion/birdsong-go/internal/retry"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	settings := &conf.Settings{}
	client := New(settings)
	client.limiter = rate.NewLimiter(rate.Inf, 1)
	client.retryCfg = retry.Config{Attempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Jitter: 0}
	httpmock.ActivateNonDefault(client.httpClient)
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

const matchResponse = `{
	"usageKey": 2482468,
	"scientificName": "Corvus corax Linnaeus, 1758",
	"canonicalName": "Corvus corax",
	"genus": "Corvus",
	"family": "Corvidae",
	"species": "Corvus corax",
	"rank": "SPECIES",
	"matchType": "EXACT"
}`

func TestMatchExact(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, `=~/species/match`,
		httpmock.NewStringResponder(http.StatusOK, matchResponse))
	httpmock.RegisterResponder(http.MethodGet, `=~/species/2482468/vernacularNames`,
		httpmock.NewStringResponder(http.StatusOK,
			`{"results":[{"vernacularName":"Kolkrabe","language":"deu"},{"vernacularName":"Common Raven","language":"eng"}]}`))

	taxon, err := client.Match(context.Background(), "Corvus corax")
	require.NoError(t, err)
	assert.Equal(t, "Corvus corax", taxon.CanonicalName)
	assert.Equal(t, "Corvus", taxon.Genus)
	assert.Equal(t, "Corvidae", taxon.Family)
	assert.Equal(t, "EXACT", taxon.MatchType)
	assert.Equal(t, "Common Raven", taxon.VernacularName)
}

func TestMatchNoneIsTerminalNotFound(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, `=~/species/match`,
		httpmock.NewStringResponder(http.StatusOK, `{"matchType":"NONE","confidence":100}`))

	taxon, err := client.Match(context.Background(), "Notarealis birdus")
	assert.Nil(t, taxon)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
	// A definitive miss must not burn retry attempts.
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestMatchRetriesServerErrors(t *testing.T) {
	client := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, `=~/species/match`,
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls < 3 {
				return httpmock.NewStringResponse(http.StatusInternalServerError, "oops"), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, matchResponse), nil
		})
	httpmock.RegisterResponder(http.MethodGet, `=~/vernacularNames`,
		httpmock.NewStringResponder(http.StatusOK, `{"results":[]}`))

	taxon, err := client.Match(context.Background(), "Corvus corax")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, "Corvus corax", taxon.CanonicalName)
	// No english vernacular available, the field just stays empty.
	assert.Empty(t, taxon.VernacularName)
}

func TestMatchRetriesMalformedPayload(t *testing.T) {
	client := newTestClient(t)

	// A 200 carrying a truncated body must re-enter the retry loop
	// just like a 5xx would.
	calls := 0
	httpmock.RegisterResponder(http.MethodGet, `=~/species/match`,
		func(*http.Request) (*http.Response, error) {
			calls++
			if calls == 1 {
				return httpmock.NewStringResponse(http.StatusOK, `{"usageKey": 24`), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, matchResponse), nil
		})
	httpmock.RegisterResponder(http.MethodGet, `=~/vernacularNames`,
		httpmock.NewStringResponder(http.StatusOK, `{"results":[]}`))

	taxon, err := client.Match(context.Background(), "Corvus corax")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "Corvus corax", taxon.CanonicalName)
}

func TestMatchGivesUpAfterAttempts(t *testing.T) {
	client := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, `=~/species/match`,
		httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))

	_, err := client.Match(context.Background(), "Corvus corax")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestStubMatch(t *testing.T) {
	t.Parallel()

	stub := NewStub(map[string]*Taxon{
		"Corvus corax": {CanonicalName: "Corvus corax", Genus: "Corvus", Family: "Corvidae"},
	})

	taxon, err := stub.Match(context.Background(), "  corvus CORAX  ")
	require.NoError(t, err)
	assert.Equal(t, "Corvidae", taxon.Family)

	_, err = stub.Match(context.Background(), "Turdus merula")
	assert.True(t, errors.IsNotFound(err))
}
