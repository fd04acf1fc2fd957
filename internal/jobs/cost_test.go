package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bimzik/backend/internal/models"
)

func strPtr(s string) *string { return &s }

func TestCreditsCost(t *testing.T) {
	tests := []struct {
		name string
		p    models.Project
		want int
	}{
		{"text", models.Project{Mode: models.ModeText, Lyrics: "x"}, 4},
		{"context", models.Project{Mode: models.ModeContext, Lyrics: "x"}, 3},
		{"text humming", models.Project{Mode: models.ModeText, Lyrics: "x", SeedAudio: strPtr("https://a/b.mp3")}, 5},
		{"context singing", models.Project{Mode: models.ModeContext, SeedAudio: strPtr("https://a/b.mp3")}, 5},
		{"empty seed ignored", models.Project{Mode: models.ModeText, Lyrics: "x", SeedAudio: strPtr("")}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CreditsCost(&tt.p); got != tt.want {
				t.Errorf("CreditsCost = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestResolveAudioID(t *testing.T) {
	tests := []struct {
		name string
		a    models.AudioArtifact
		want string
	}{
		{"stored id wins", models.AudioArtifact{ProviderAudioID: "abc", FileURL: "https://cdn1.suno.ai/0f3e1c2a-7b5d-4e8f-9a6b-1c2d3e4f5a6b.mp3"}, "abc"},
		{"uuid in file name", models.AudioArtifact{FileURL: "https://cdn1.suno.ai/0F3E1C2A-7B5D-4E8F-9A6B-1C2D3E4F5A6B.mp3"}, "0f3e1c2a-7b5d-4e8f-9a6b-1c2d3e4f5a6b"},
		{"uuid inside longer stem", models.AudioArtifact{FileURL: "https://cdn1.suno.ai/audio_0f3e1c2a-7b5d-4e8f-9a6b-1c2d3e4f5a6b_v2.mp3?x=1"}, "0f3e1c2a-7b5d-4e8f-9a6b-1c2d3e4f5a6b"},
		{"32 hex stem", models.AudioArtifact{FileURL: "https://musicfile.api.box/9AE0F5A1B2C3D4E5F60718293A4B5C6D.mp3"}, "9ae0f5a1b2c3d4e5f60718293a4b5c6d"},
		{"plain name", models.AudioArtifact{FileURL: "https://storage.example.com/tracks/song.mp3"}, ""},
		{"empty", models.AudioArtifact{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveAudioID(&tt.a); got != tt.want {
				t.Errorf("ResolveAudioID = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultPollPolicy_Intervals(t *testing.T) {
	got := DefaultPollPolicy().Intervals()
	if len(got) != 15 {
		t.Fatalf("len = %d, want 15", len(got))
	}
	if got[0] != 5*time.Second || got[1] != 6500*time.Millisecond {
		t.Errorf("first intervals = %v, %v", got[0], got[1])
	}
	for i, d := range got {
		if d > 20*time.Second {
			t.Errorf("interval %d = %v exceeds cap", i, d)
		}
		if i > 0 && d < got[i-1] {
			t.Errorf("interval %d decreased: %v < %v", i, d, got[i-1])
		}
	}
	if got[len(got)-1] != 20*time.Second {
		t.Errorf("last interval = %v, want cap", got[len(got)-1])
	}
}

func TestSleepCtx_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepCtx(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
