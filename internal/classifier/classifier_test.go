package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/tender-ingest/internal/tender"
)

type judgeOracle struct {
	reply   string
	err     error
	prompts []string
}

func (j *judgeOracle) Extract(context.Context, string, string) (tender.Extraction, error) {
	return tender.Extraction{}, nil
}

func (j *judgeOracle) Judge(_ context.Context, prompt string) (string, error) {
	j.prompts = append(j.prompts, prompt)
	return j.reply, j.err
}

func TestKeywordScore(t *testing.T) {
	t.Parallel()

	c, err := New(Config{
		Mode:      ModeKeyword,
		Threshold: 0.5,
		Keywords:  []string{"serveur", "réseau", "logiciel", "ERP"},
	}, nil, nil)
	require.NoError(t, err)

	d, ok := c.Classify(context.Background(), tender.NoticeDraft{
		TenderObject: "Acquisition de SERVEURS et extension du Réseau",
		Description:  "serveur serveur serveur",
	})
	require.True(t, ok)
	require.InDelta(t, 0.5, d.RelevanceScore, 1e-9, "each keyword counts once")
	require.Equal(t, []string{"serveur", "reseau"}, d.Keywords)
	require.Equal(t, tender.ClassifiedByRules, d.ClassificationMethod)

	d, ok = c.Classify(context.Background(), tender.NoticeDraft{TenderObject: "Mise en place d'un ERP"})
	require.False(t, ok)
	require.InDelta(t, 0.25, d.RelevanceScore, 1e-9)
}

func TestKeywordThresholdIsInclusive(t *testing.T) {
	t.Parallel()

	c, err := New(Config{Threshold: 1, Keywords: []string{"cloud", "cloud", "Cloud"}}, nil, nil)
	require.NoError(t, err)

	d, ok := c.Classify(context.Background(), tender.NoticeDraft{Description: "hébergement cloud"})
	require.True(t, ok)
	require.InDelta(t, 1.0, d.RelevanceScore, 1e-9)
}

func TestKeywordWithoutKeywords(t *testing.T) {
	t.Parallel()

	c, err := New(Config{Threshold: 0.1}, nil, nil)
	require.NoError(t, err)
	d, ok := c.Classify(context.Background(), tender.NoticeDraft{TenderObject: "informatique"})
	require.False(t, ok)
	require.Zero(t, d.RelevanceScore)
	require.Empty(t, d.Keywords)
}

func TestOracleMode(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		reply    string
		want     float64
		relevant bool
	}{
		"yes default": {reply: "OUI", want: 0.8, relevant: true},
		"no default":  {reply: "NON, hors sujet", want: 0.2},
		"yes score":   {reply: "Oui\nSCORE: 0.95", want: 0.95, relevant: true},
		"no score":    {reply: "NON\nscore : 0.1", want: 0.1},
		"clamped":     {reply: "YES\nSCORE: 7", want: 1, relevant: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			o := &judgeOracle{reply: tc.reply}
			c, err := New(Config{Mode: ModeOracle, Threshold: 0.7}, o, nil)
			require.NoError(t, err)

			d, ok := c.Classify(context.Background(), tender.NoticeDraft{Entity: "ANPTIC", TenderObject: "Acquisition de serveurs"})
			require.Equal(t, tc.relevant, ok)
			require.InDelta(t, tc.want, d.RelevanceScore, 1e-9)
			require.Equal(t, tender.ClassifiedByOracle, d.ClassificationMethod)
			require.Len(t, o.prompts, 1)
			require.Contains(t, o.prompts[0], "Acquisition de serveurs")
		})
	}
}

func TestOracleFailureFallsBack(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	o := &judgeOracle{err: errors.New("timeout")}
	c, err := New(Config{Mode: ModeOracle, Threshold: 0.5}, o, zap.New(core))
	require.NoError(t, err)

	d, ok := c.Classify(context.Background(), tender.NoticeDraft{ID: "d1"})
	require.True(t, ok)
	require.InDelta(t, 0.6, d.RelevanceScore, 1e-9)
	require.Equal(t, tender.ClassifiedByOracleFallback, d.ClassificationMethod)
	require.Equal(t, 1, logs.Len())
}

func TestNewValidatesMode(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Mode: ModeOracle}, nil, nil)
	require.ErrorIs(t, err, ErrNoOracle)
	_, err = New(Config{Mode: "magic"}, nil, nil)
	require.Error(t, err)
}
