package catalog

import (
	"errors"
	"testing"
)

func TestExtractChannelIdentifier(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		identifier string
		idType     string
		wantErr    bool
	}{
		{
			name:       "handle",
			url:        "https://www.youtube.com/@SomeCreator",
			identifier: "SomeCreator",
			idType:     "handle",
		},
		{
			name:       "channel id",
			url:        "https://youtube.com/channel/UCabc123_-xyz",
			identifier: "UCabc123_-xyz",
			idType:     "channel_id",
		},
		{
			name:       "custom url",
			url:        "https://www.youtube.com/c/SomeCreator",
			identifier: "SomeCreator",
			idType:     "custom",
		},
		{
			name:       "legacy user url",
			url:        "https://www.youtube.com/user/somecreator",
			identifier: "somecreator",
			idType:     "user",
		},
		{
			name:       "handle with trailing path",
			url:        "https://www.youtube.com/@SomeCreator/videos",
			identifier: "SomeCreator",
			idType:     "handle",
		},
		{
			name:    "not a channel url",
			url:     "https://www.youtube.com/watch?v=abc123",
			wantErr: true,
		},
		{
			name:    "unrelated url",
			url:     "https://example.com/@SomeCreator",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			identifier, idType, err := ExtractChannelIdentifier(tt.url)
			if tt.wantErr {
				if !errors.Is(err, ErrUnrecognizedURL) {
					t.Fatalf("got %v, want ErrUnrecognizedURL", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if identifier != tt.identifier || idType != tt.idType {
				t.Errorf("got (%q, %q), want (%q, %q)", identifier, idType, tt.identifier, tt.idType)
			}
		})
	}
}

func TestExtractVideoID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://youtu.be/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ"},
		{"https://www.youtube.com/@SomeCreator", ""},
	}

	for _, tt := range tests {
		if got := ExtractVideoID(tt.url); got != tt.want {
			t.Errorf("ExtractVideoID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
