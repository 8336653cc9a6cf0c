package common

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"eco-challenge-rewards-go/internal/models"
	"eco-challenge-rewards-go/internal/store"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

type ChallengeCatalog struct {
	Challenges []models.Challenge `yaml:"challenges"`
}

// LoadChallengeCatalog reads challenge definitions from a YAML file. Relative
// paths resolve against the working directory.
func LoadChallengeCatalog(catalogFile string) ([]models.Challenge, error) {
	path := catalogFile
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		path = filepath.Join(wd, catalogFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", catalogFile, err)
	}
	return ParseChallengeCatalog(data)
}

func ParseChallengeCatalog(data []byte) ([]models.Challenge, error) {
	var catalog ChallengeCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("unable to parse challenge catalog: %w", err)
	}

	seen := make(map[string]bool, len(catalog.Challenges))
	for i, c := range catalog.Challenges {
		if c.Id == "" || c.Code == "" || c.Title == "" {
			return nil, fmt.Errorf("challenge at index %d needs id, code and title", i)
		}
		if seen[c.Id] {
			return nil, fmt.Errorf("challenge %s is defined twice", c.Id)
		}
		seen[c.Id] = true
		policy, err := models.ParseRewardPolicy(strings.ToUpper(string(c.RewardPolicy)))
		if err != nil {
			return nil, fmt.Errorf("challenge %s: %w", c.Id, err)
		}
		catalog.Challenges[i].RewardPolicy = policy
		if c.Points < 0 || c.TeamScore < 0 || c.CarbonSaved < 0 {
			return nil, fmt.Errorf("challenge %s: rewards cannot be negative", c.Id)
		}
		if c.StartAt != nil && c.EndAt != nil && c.EndAt.Before(*c.StartAt) {
			return nil, fmt.Errorf("challenge %s: window ends before it starts", c.Id)
		}
	}
	return catalog.Challenges, nil
}

// SeedChallenges upserts every challenge of the catalog.
func SeedChallenges(ctx context.Context, challenges store.ChallengeStore, catalog []models.Challenge) error {
	for _, c := range catalog {
		if err := challenges.UpsertChallenge(ctx, c); err != nil {
			return fmt.Errorf("unable to seed challenge %s: %w", c.Id, err)
		}
	}
	zap.L().Info("Challenge catalog seeded", zap.Int("count", len(catalog)))
	return nil
}
