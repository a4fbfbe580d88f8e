package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Generator streams an answer for a prompt given the prior conversation.
// emit is called once per generated text piece; an emit error stops the stream.
type Generator interface {
	Stream(ctx context.Context, history []Message, prompt string, emit func(string) error) error
}

// GeneratorConfig holds configuration for chat generators
type GeneratorConfig struct {
	Provider  string
	APIKey    string
	Model     string
	OwnerName string
}

// NewGenerator creates the generator named by config.Provider.
func NewGenerator(ctx context.Context, config *GeneratorConfig) (Generator, error) {
	if config == nil {
		return nil, errors.New("generator config is required")
	}
	switch strings.ToLower(config.Provider) {
	case "", "gemini", "google":
		return NewGeminiGenerator(ctx, config)
	case "stub":
		return &StubGenerator{}, nil
	default:
		return nil, errors.New("unsupported chat provider: " + config.Provider)
	}
}

const (
	defaultChatModel = "gemini-2.5-flash"
	maxOutputTokens  = 1024
	temperature      = 0.7
)

// SystemPrompt returns the assistant instructions for the given site owner.
func SystemPrompt(owner string) string {
	if strings.TrimSpace(owner) == "" {
		owner = "the site owner"
	}
	return "You are the assistant on the personal portfolio of " + owner + ".\n\n" +
		"Your role:\n" +
		"- Answer questions about " + owner + "'s experience, skills, and projects\n" +
		"- Be helpful, professional, and concise\n" +
		"- Only use information from the provided context\n" +
		"- If you don't have enough information, say so honestly\n" +
		"- Cite sources when relevant using [Source N] format"
}

type GeminiGenerator struct {
	config *GeneratorConfig
	client *genai.Client
}

// NewGeminiGenerator creates a generator for the Gemini API.
func NewGeminiGenerator(ctx context.Context, config *GeneratorConfig) (*GeminiGenerator, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, ErrMissingCredential
	}
	if config.Model == "" {
		config.Model = defaultChatModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiGenerator{config: config, client: client}, nil
}

// Stream sends the conversation to Gemini and forwards streamed text.
func (g *GeminiGenerator) Stream(ctx context.Context, history []Message, prompt string, emit func(string) error) error {
	temp := float32(temperature)
	cfg := &genai.GenerateContentConfig{
		Temperature:       &temp,
		MaxOutputTokens:   maxOutputTokens,
		SystemInstruction: genai.NewContentFromText(SystemPrompt(g.config.OwnerName), genai.RoleUser),
	}

	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.config.Model, Contents(history, prompt), cfg) {
		if err != nil {
			return fmt.Errorf("generation failed: %w", err)
		}
		if text := resp.Text(); text != "" {
			if err := emit(text); err != nil {
				return err
			}
		}
	}
	return nil
}

// Contents maps the chat history plus the new prompt to Gemini contents.
// Any role other than "user" is sent as the model's turn.
func Contents(history []Message, prompt string) []*genai.Content {
	out := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleModel)
		if m.Role == "user" {
			role = genai.RoleUser
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return append(out, genai.NewContentFromText(prompt, genai.RoleUser))
}

// StubGenerator answers with a fixed acknowledgement of the prompt.
type StubGenerator struct{}

func (s *StubGenerator) Stream(ctx context.Context, history []Message, prompt string, emit func(string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, piece := range []string{"I received your question", " with ", fmt.Sprintf("%d characters of prompt.", len(prompt))} {
		if err := emit(piece); err != nil {
			return err
		}
	}
	return nil
}
