package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chronicleaudio/chronicle/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chronicle",
		Short: "Chronicle - streaming conversation capture and processing",
		Long: `Chronicle ingests live audio over websocket and batch WAV uploads,
detects meaningful speech, segments audio into conversations and runs a
post-processing pipeline: transcription, speaker recognition, cropping,
memory extraction and titling.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		workerCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("Server:")
			fmt.Printf("  Host: %s\n", cfg.Server.Host)
			fmt.Printf("  Port: %d\n", cfg.Server.Port)
			fmt.Println()

			fmt.Println("Storage:")
			fmt.Printf("  PostgreSQL: %s\n", maskSecret(cfg.Database.PostgresURL))
			fmt.Printf("  Redis:      %s\n", maskSecret(cfg.Redis.URL))
			fmt.Printf("  Chunk dir:  %s\n", cfg.Audio.ChunkDir)
			fmt.Println()

			fmt.Println("ASR:")
			fmt.Printf("  URL:     %s\n", cfg.ASR.URL)
			fmt.Printf("  Model:   %s\n", cfg.ASR.Model)
			fmt.Printf("  Diarize: %t\n", cfg.ASR.Diarize)
			fmt.Printf("  API Key: %s\n", maskSecret(cfg.ASR.APIKey))
			fmt.Println()

			fmt.Println("LLM:")
			fmt.Printf("  URL:         %s\n", cfg.LLM.URL)
			fmt.Printf("  Model:       %s\n", cfg.LLM.Model)
			fmt.Printf("  Max Tokens:  %d\n", cfg.LLM.MaxTokens)
			fmt.Printf("  Temperature: %.2f\n", cfg.LLM.Temperature)
			fmt.Printf("  API Key:     %s\n", maskSecret(cfg.LLM.APIKey))
			fmt.Println()

			fmt.Println("Memory:")
			fmt.Printf("  Provider:  %s\n", cfg.Memory.Provider)
			fmt.Printf("  Embedding: %s\n", cfg.Embedding.URL)
			fmt.Printf("  Status:    %s\n", boolStatus(cfg.IsMemoryConfigured()))
			fmt.Println()

			fmt.Println("Speaker recognition:")
			fmt.Printf("  URL:    %s\n", cfg.Speaker.URL)
			fmt.Printf("  Status: %s\n", boolStatus(cfg.IsSpeakerServiceConfigured()))
			fmt.Println()

			fmt.Println("Speech detection:")
			fmt.Printf("  Min words:            %d\n", cfg.Speech.MinWords)
			fmt.Printf("  Min confidence:       %.2f\n", cfg.Speech.MinConfidence)
			fmt.Printf("  Min duration:         %.1fs\n", cfg.Speech.MinDuration)
			fmt.Printf("  Inactivity threshold: %.0fs\n", cfg.Speech.InactivityThreshold)
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  CHRONICLE_POSTGRES_URL, CHRONICLE_REDIS_URL, CHRONICLE_CHUNK_DIR")
			fmt.Println("  CHRONICLE_ASR_URL, CHRONICLE_ASR_MODEL, CHRONICLE_ASR_DIARIZE")
			fmt.Println("  CHRONICLE_LLM_URL, CHRONICLE_LLM_MODEL, CHRONICLE_EMBEDDING_URL")
			fmt.Println("  SPEECH_DETECTION_MIN_WORDS, SPEECH_INACTIVITY_THRESHOLD_SECONDS")

			return nil
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Chronicle %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}
