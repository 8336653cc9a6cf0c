package common

import (
	"testing"
	"time"

	"eco-challenge-rewards-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChallengeCatalog(t *testing.T) {
	data := []byte(`
challenges:
  - id: reusable-bag
    code: REUSABLE_BAG
    title: Reusable bag
    reward_policy: POINTS
    points: 10
    carbon_saved: 0.04
    active: true
  - id: team-plugging
    code: TEAM_PLUGGING
    title: Team plogging
    reward_policy: TEAM_SCORE
    team_score: 30
    leader_only: true
    start_at: 2025-03-01T00:00:00Z
    end_at: 2025-03-31T23:59:59Z
    active: true
`)
	challenges, err := ParseChallengeCatalog(data)
	require.NoError(t, err)
	require.Len(t, challenges, 2)

	assert.Equal(t, models.RewardPoints, challenges[0].RewardPolicy)
	assert.Equal(t, int64(10), challenges[0].Points)
	assert.Nil(t, challenges[0].StartAt)

	plugging := challenges[1]
	assert.True(t, plugging.LeaderOnly)
	require.NotNil(t, plugging.StartAt)
	assert.True(t, plugging.StartAt.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestParseChallengeCatalogRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing code":   "challenges:\n  - id: a\n    title: A\n    reward_policy: POINTS\n",
		"bad policy":     "challenges:\n  - id: a\n    code: A\n    title: A\n    reward_policy: CASH\n",
		"duplicate id":   "challenges:\n  - {id: a, code: A, title: A, reward_policy: POINTS}\n  - {id: a, code: B, title: B, reward_policy: POINTS}\n",
		"negative":       "challenges:\n  - {id: a, code: A, title: A, reward_policy: POINTS, points: -1}\n",
		"inverted range": "challenges:\n  - {id: a, code: A, title: A, reward_policy: POINTS, start_at: 2025-03-02T00:00:00Z, end_at: 2025-03-01T00:00:00Z}\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseChallengeCatalog([]byte(data))
			assert.Error(t, err)
		})
	}
}
