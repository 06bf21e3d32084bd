package oracle

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func messagesServer(t *testing.T, reply string, status int, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		require.Equal(t, "/v1/messages", r.URL.Path)
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req map[string]any
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, "test-model", req["model"])

		w.Header().Set("Content-Type", "application/json")
		if status != http.StatusOK {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_1",
			"type":          "message",
			"role":          "assistant",
			"model":         "test-model",
			"content":       []map[string]string{{"type": "text", "text": reply}},
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"usage":         map[string]int{"input_tokens": 1, "output_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(url string) *Client {
	return New(Config{
		APIKey:     "test-key",
		BaseURL:    url,
		Model:      "test-model",
		Timeout:    2 * time.Second,
		MaxRetries: 0,
	}, nil)
}

func TestClientExtract(t *testing.T) {
	t.Parallel()

	var calls int32
	reply := "Voici le résultat :\n```json\n" +
		`{"tenders":[{"type":"appel_offres","entity":"MINISTERE DE LA SANTE","reference":"2025-014/MS",` +
		`"tender_object":"Acquisition de serveurs","deadline":"20-02-2025","budget":null,"keywords":["serveur"]}],` +
		`"confidence":0.9}` + "\n```"
	srv := messagesServer(t, reply, http.StatusOK, &calls)

	ext, err := newTestClient(srv.URL).Extract(context.Background(), "texte du bulletin", "dgmp")
	require.NoError(t, err)
	require.Len(t, ext.Candidates, 1)
	require.Equal(t, 1, ext.TotalExtracted)
	require.Equal(t, "MINISTERE DE LA SANTE", ext.Candidates[0].Entity)
	require.Empty(t, ext.Candidates[0].Budget)
	require.InDelta(t, 0.9, ext.Confidence, 1e-9)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestClientExtractMalformed(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := messagesServer(t, "je ne peux pas répondre", http.StatusOK, &calls)
	_, err := newTestClient(srv.URL).Extract(context.Background(), "texte", "dgmp")
	require.ErrorIs(t, err, ErrMalformed)
}

func TestClientJudge(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := messagesServer(t, "OUI\nSCORE: 0.9", http.StatusOK, &calls)
	reply, err := newTestClient(srv.URL).Judge(context.Background(), "Pertinent ?")
	require.NoError(t, err)
	require.Equal(t, "OUI\nSCORE: 0.9", reply)
}

func TestClientJudgeAPIError(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := messagesServer(t, "", http.StatusBadRequest, &calls)
	_, err := newTestClient(srv.URL).Judge(context.Background(), "Pertinent ?")
	require.Error(t, err)
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	_, err := Disabled{}.Extract(context.Background(), "x", "y")
	require.ErrorIs(t, err, ErrDisabled)
	_, err = Disabled{}.Judge(context.Background(), "x")
	require.ErrorIs(t, err, ErrDisabled)
}

func TestParseExtraction(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		reply string
		want  int
		err   bool
	}{
		"bare":     {reply: `{"tenders":[{"entity":"A"},{"entity":"B"}],"total_extracted":2}`, want: 2},
		"fenced":   {reply: "```json\n{\"tenders\":[{\"entity\":\"A\"}]}\n```", want: 1},
		"embedded": {reply: `Résultat: {"tenders":[]} fin`, want: 0},
		"garbage":  {reply: "pas de json", err: true},
		"broken":   {reply: `{"tenders":[`, err: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ext, err := ParseExtraction(tc.reply)
			if tc.err {
				require.ErrorIs(t, err, ErrMalformed)
				return
			}
			require.NoError(t, err)
			require.Len(t, ext.Candidates, tc.want)
		})
	}
}

func TestHashingEmbedderRanksRelatedText(t *testing.T) {
	t.Parallel()

	e := HashingEmbedder{Dims: 256}
	vecs, err := e.Embed(context.Background(), []string{
		"avis d'appel d'offres acquisition de serveurs informatiques",
		"Avis d'appel d'offres : acquisition de serveurs",
		"rapport annuel du conseil des ministres",
		"",
	})
	require.NoError(t, err)
	require.Len(t, vecs, 4)

	related := Cosine(vecs[0], vecs[1])
	unrelated := Cosine(vecs[0], vecs[2])
	require.Greater(t, related, unrelated)
	require.Zero(t, Cosine(vecs[0], vecs[3]))
	require.Zero(t, Cosine(vecs[0], vecs[0][:10]))

	again, err := e.Embed(context.Background(), []string{"avis d'appel d'offres acquisition de serveurs informatiques"})
	require.NoError(t, err)
	require.Equal(t, vecs[0], again[0])
}

func TestCounterTracksCallsAndFailures(t *testing.T) {
	t.Parallel()

	require.Nil(t, NewCounter(nil))
	var nilCounter *Counter
	calls, failures := nilCounter.Counts()
	require.Zero(t, calls)
	require.Zero(t, failures)

	c := NewCounter(Disabled{})
	_, err := c.Extract(context.Background(), "texte", "dgmp")
	require.ErrorIs(t, err, ErrDisabled)
	_, err = c.Judge(context.Background(), "Pertinent ?")
	require.ErrorIs(t, err, ErrDisabled)

	calls, failures = c.Counts()
	require.EqualValues(t, 2, calls)
	require.EqualValues(t, 2, failures)
}
