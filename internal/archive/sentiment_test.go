package archive

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentimentLabelThresholds(t *testing.T) {
	th := DefaultSentimentThresholds()

	require.Equal(t, SentimentPositive, th.Label(0.11))
	require.Equal(t, SentimentNegative, th.Label(-0.11))

	// Scores exactly at a threshold are neutral.
	require.Equal(t, SentimentNeutral, th.Label(0.1))
	require.Equal(t, SentimentNeutral, th.Label(-0.1))
	require.Equal(t, SentimentNeutral, th.Label(0))
}

func TestSentimentLabelCustomThresholds(t *testing.T) {
	th := SentimentThresholds{Positive: 0.5, Negative: -0.5}
	require.Equal(t, SentimentNeutral, th.Label(0.4))
	require.Equal(t, SentimentPositive, th.Label(0.6))
}

func TestNormalizeEntityType(t *testing.T) {
	require.Equal(t, EntityPerson, NormalizeEntityType("PERSON"))
	require.Equal(t, EntityGPE, NormalizeEntityType("GPE"))
	require.Equal(t, EntityOther, NormalizeEntityType("FAC"))
	require.Equal(t, EntityOther, NormalizeEntityType(""))
}
