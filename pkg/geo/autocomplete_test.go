package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func isulan() Place {
	return Place{PlaceID: "1", DisplayName: "Isulan, Sultan Kudarat", Address: Address{City: "Isulan", State: "Sultan Kudarat"}}
}

func TestSuggestSendsQueryParameters(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.URL.Query())
		_ = json.NewEncoder(w).Encode([]Place{isulan()})
	}))
	defer srv.Close()

	a := New(srv.URL+"/v1/autocomplete.php", "k3y", srv.Client())
	places, err := a.Suggest(context.Background(), "Isul")
	require.NoError(t, err)
	require.Len(t, places, 1)
	require.Equal(t, "Isulan", places[0].Municipality())

	q := got.Load().(url.Values)
	require.Equal(t, []string{"Isul"}, q["q"])
	require.Equal(t, []string{"k3y"}, q["key"])
	require.Equal(t, []string{"5"}, q["limit"])
	require.Equal(t, []string{"ph"}, q["countrycodes"])
	require.Equal(t, []string{"1"}, q["normalizecity"])
}

func TestSuggestSkipsShortQueries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte("[]"))
	}))
	defer srv.Close()

	a := New(srv.URL, "", srv.Client())
	for _, q := range []string{"", "Is", "  ab  "} {
		places, err := a.Suggest(context.Background(), q)
		require.NoError(t, err)
		require.Empty(t, places)
	}
	require.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestSuggestNoMatchIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Unable to geocode"}`))
	}))
	defer srv.Close()

	places, err := New(srv.URL, "", srv.Client()).Suggest(context.Background(), "zzzz")
	require.NoError(t, err)
	require.Empty(t, places)
}

func TestSuggestUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := New(srv.URL, "", srv.Client()).Suggest(context.Background(), "Isulan")
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestNewerQuerySupersedesInFlight(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "Isu" {
			started <- struct{}{}
			select {
			case <-release:
			case <-r.Context().Done():
			}
			return
		}
		_ = json.NewEncoder(w).Encode([]Place{isulan()})
	}))
	defer srv.Close()

	a := New(srv.URL, "", srv.Client())
	first := make(chan error, 1)
	go func() {
		_, err := a.Suggest(context.Background(), "Isu")
		first <- err
	}()
	<-started

	places, err := a.Suggest(context.Background(), "Isulan")
	require.NoError(t, err)
	require.Len(t, places, 1)

	select {
	case err := <-first:
		require.ErrorIs(t, err, ErrSuperseded)
	case <-time.After(2 * time.Second):
		t.Fatal("first lookup was not cancelled")
	}
}

func TestCallerCancellationIsNotSuperseded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL, "", srv.Client()).Suggest(ctx, "Isulan")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrSuperseded)
}

func TestValidateServiceArea(t *testing.T) {
	require.NoError(t, ValidateServiceArea(isulan()))
	require.NoError(t, ValidateServiceArea(Place{Address: Address{Town: "President Quirino", State: "Sultan Kudarat"}}))

	for name, p := range map[string]Place{
		"other province":  {Address: Address{City: "Isulan", State: "Cotabato"}},
		"unknown town":    {Address: Address{City: "Koronadal", State: "Sultan Kudarat"}},
		"no municipality": {Address: Address{State: "Sultan Kudarat"}},
		"case must match": {Address: Address{City: "isulan", State: "Sultan Kudarat"}},
	} {
		require.ErrorIs(t, ValidateServiceArea(p), ErrOutsideServiceArea, name)
	}
}
