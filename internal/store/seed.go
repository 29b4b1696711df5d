package store

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/freyalabs/console/pkg/models"
)

// seedSpec is one entry in an optional YAML seed file.
type seedSpec struct {
	Title string   `yaml:"title"`
	Body  string   `yaml:"body"`
	Tags  []string `yaml:"tags"`
}

// defaultSeeds are the example prompts installed on first run.
var defaultSeeds = []seedSpec{
	{
		Title: "Fitness Coach",
		Body:  "You are an energetic and motivational fitness coach. Help users achieve their fitness goals with enthusiasm and practical advice. Keep responses concise and actionable.",
		Tags:  []string{"health", "fitness", "motivation"},
	},
	{
		Title: "French Tutor",
		Body:  "You are a patient French language tutor. Help students learn French through conversation, grammar explanations, and cultural insights. Respond with corrections when needed.",
		Tags:  []string{"education", "language", "french"},
	},
	{
		Title: "Code Helper",
		Body:  "You are a senior software engineer specializing in Python and JavaScript. Help developers debug code, explain concepts, and suggest best practices. Provide code examples when helpful.",
		Tags:  []string{"programming", "technical", "education"},
	},
	{
		Title: "Customer Support",
		Body:  "You are a friendly customer support representative. Address customer concerns with empathy, provide clear solutions, and maintain a professional yet warm tone.",
		Tags:  []string{"support", "business", "communication"},
	},
}

// seedPrompts builds the initial prompt records. A seed file, when
// present and parsable, replaces the built-in set.
func seedPrompts(seedFile string) []*models.Prompt {
	specs := defaultSeeds
	if seedFile != "" {
		if loaded, err := loadSeedFile(seedFile); err != nil {
			log.Warn().Err(err).Str("path", seedFile).Msg("Ignoring unreadable seed file")
		} else if len(loaded) > 0 {
			specs = loaded
		}
	}

	prompts := make([]*models.Prompt, 0, len(specs))
	for i, spec := range specs {
		if spec.Title == "" || spec.Body == "" {
			continue
		}
		// Stagger creation times so list ordering matches seed order.
		now := time.Now().UTC().Add(time.Duration(i) * time.Millisecond)
		tags := spec.Tags
		if tags == nil {
			tags = []string{}
		}
		prompts = append(prompts, &models.Prompt{
			ID:        uuid.NewString(),
			Title:     spec.Title,
			Body:      spec.Body,
			Tags:      tags,
			CreatedAt: now,
			UpdatedAt: now,
			Versions:  []models.PromptVersion{{Body: spec.Body, Timestamp: now}},
		})
	}
	return prompts
}

func loadSeedFile(path string) ([]seedSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var specs []seedSpec
	if err := yaml.Unmarshal(data, &specs); err != nil {
		return nil, err
	}
	return specs, nil
}
