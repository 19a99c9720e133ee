package lease

import "testing"

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		pattern string
		want    bool
	}{
		{"double star deep", "src/a/b/c.ts", "src/**/*.ts", true},
		{"double star one level", "src/y/z.ts", "src/**/*.ts", true},
		{"different root", "lib/x.ts", "src/**/*.ts", false},
		{"double star trailing", "migrations/2024/001.sql", "migrations/**", true},
		{"double star leading", "internal/auth/login.go", "**/auth/**", true},
		{"single star stays in segment", "src/a/b.go", "src/*.go", false},
		{"single star in segment", "src/main.go", "src/*.go", true},
		{"single star prefix", "internal/auth_handler.go", "internal/auth*", true},
		{"question mark", "a/b1.txt", "a/b?.txt", true},
		{"question mark no separator", "a/b/.txt", "a/b?.txt", false},
		{"literal", "config/settings.yaml", "config/settings.yaml", true},
		{"whole string only", "config/settings.yaml.bak", "config/settings.yaml", false},
		{"case sensitive", "SRC/main.go", "src/*.go", false},
		{"backslash path", `src\a\b.ts`, "src/**/*.ts", true},
		{"backslash pattern", "src/a/b.ts", `src\**\*.ts`, true},
		{"empty star segment", "src/.ts", "src/*.ts", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.path, tt.pattern); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.path, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"src/**", "src/api/handler.go", true},
		{"src/**/*.ts", "src/**/*.go", false},
		{"src/**", "lib/**", false},
		{"src/*.go", "src/*_test.go", true},
		{"src/a.go", "src/b.go", false},
		{"src/a.go", "src/a.go", true},
		{"**/*.md", "docs/readme.md", true},
		{"docs/**", "docs/api/*.md", true},
	}

	for _, tt := range tests {
		if got := Overlaps(tt.a, tt.b); got != tt.want {
			t.Errorf("Overlaps(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
		if got := Overlaps(tt.b, tt.a); got != tt.want {
			t.Errorf("Overlaps(%q, %q) = %v, want %v (reversed)", tt.b, tt.a, got, tt.want)
		}
	}
}
