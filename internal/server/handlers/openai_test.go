package handlers

import (
	"testing"
)

func TestParseSize(t *testing.T) {
	tests := []struct {
		input   string
		width   int
		height  int
		wantErr bool
	}{
		{input: "1024x768", width: 1024, height: 768},
		{input: "512X512", width: 512, height: 512},
		{input: " 256 x 256 ", width: 256, height: 256},
		{input: "1024", wantErr: true},
		{input: "axb", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			width, height, err := parseSize(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSize(%q): %v", tt.input, err)
			}
			if width != tt.width || height != tt.height {
				t.Errorf("parseSize(%q) = %dx%d, want %dx%d", tt.input, width, height, tt.width, tt.height)
			}
		})
	}
}

func TestParsePromptDirectives(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		prompt string
		width  int
		height int
		steps  int
	}{
		{
			name:   "no directives",
			input:  "a red fox in the snow",
			prompt: "a red fox in the snow",
		},
		{
			name:   "size directive",
			input:  "a red fox --size 512x768",
			prompt: "a red fox",
			width:  512,
			height: 768,
		},
		{
			name:   "size with uppercase x",
			input:  "a red fox --size 512X768",
			prompt: "a red fox",
			width:  512,
			height: 768,
		},
		{
			name:   "width and height",
			input:  "a red fox --width 640 --height 480",
			prompt: "a red fox",
			width:  640,
			height: 480,
		},
		{
			name:   "steps directive",
			input:  "a red fox --steps 20",
			prompt: "a red fox",
			steps:  20,
		},
		{
			name:   "all directives mixed into text",
			input:  "--steps 15 a red fox --size 1024x1024 in the snow",
			prompt: "a red fox  in the snow",
			width:  1024,
			height: 1024,
			steps:  15,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt, req := parsePromptDirectives(tt.input)
			if prompt != tt.prompt {
				t.Errorf("prompt = %q, want %q", prompt, tt.prompt)
			}
			if req.Width != tt.width || req.Height != tt.height || req.Steps != tt.steps {
				t.Errorf("req = %dx%d steps %d, want %dx%d steps %d",
					req.Width, req.Height, req.Steps, tt.width, tt.height, tt.steps)
			}
		})
	}
}
