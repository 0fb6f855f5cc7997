package providers

import (
	"testing"
)

func TestFactoryCachesByKindAndKey(t *testing.T) {
	f := NewFactory()

	a1, err := f.Create(KindOpenAI, Config{APIKey: "sk-test-aaaaaaaaaaaa"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, err := f.Create(KindOpenAI, Config{APIKey: "sk-test-aaaaaaaaaaaa"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1 != a2 {
		t.Error("same kind and key should return the cached instance")
	}

	b, err := f.Create(KindOpenAI, Config{APIKey: "sk-other-bbbbbbbbbbbb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1 == b {
		t.Error("different key should create a distinct instance")
	}
}

func TestFactoryRejectsUnknownKind(t *testing.T) {
	f := NewFactory()
	if _, err := f.Create(Kind("mystery"), Config{APIKey: "x"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestFactoryRequiresKey(t *testing.T) {
	f := NewFactory()
	if _, err := f.Create(KindAnthropic, Config{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestFactoryPurge(t *testing.T) {
	f := NewFactory()
	a1, err := f.Create(KindOpenAI, Config{APIKey: "sk-test-aaaaaaaaaaaa"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.Purge()
	a2, err := f.Create(KindOpenAI, Config{APIKey: "sk-test-aaaaaaaaaaaa"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a1 == a2 {
		t.Error("purge should drop cached instances")
	}
}

func TestCreateFromEnvironment(t *testing.T) {
	f := NewFactory()

	t.Run("defaults to anthropic", func(t *testing.T) {
		t.Setenv("LLM_PROVIDER", "")
		t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
		t.Setenv("LLM_MODEL", "")
		t.Setenv("LLM_MAX_TOKENS", "")
		t.Setenv("LLM_TEMPERATURE", "")

		p, err := f.CreateFromEnvironment()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Name() != "anthropic" {
			t.Errorf("Name() = %q, want anthropic", p.Name())
		}
	})

	t.Run("missing key fails", func(t *testing.T) {
		t.Setenv("LLM_PROVIDER", "openai")
		t.Setenv("OPENAI_API_KEY", "")

		if _, err := f.CreateFromEnvironment(); err == nil {
			t.Fatal("expected error when OPENAI_API_KEY is unset")
		}
	})

	t.Run("invalid max tokens fails", func(t *testing.T) {
		t.Setenv("LLM_PROVIDER", "openai")
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("LLM_MAX_TOKENS", "lots")

		if _, err := f.CreateFromEnvironment(); err == nil {
			t.Fatal("expected error for non-numeric LLM_MAX_TOKENS")
		}
	})

	t.Run("invalid temperature fails", func(t *testing.T) {
		t.Setenv("LLM_PROVIDER", "openai")
		t.Setenv("OPENAI_API_KEY", "sk-test")
		t.Setenv("LLM_MAX_TOKENS", "1024")
		t.Setenv("LLM_TEMPERATURE", "3.5")

		if _, err := f.CreateFromEnvironment(); err == nil {
			t.Fatal("expected error for out-of-range LLM_TEMPERATURE")
		}
	})
}
