package config

import "reflect"

// ProviderKind names a pipeline stage whose provider can be overridden
// per device.
type ProviderKind string

const (
	KindVAD    ProviderKind = "vad"
	KindASR    ProviderKind = "asr"
	KindLLM    ProviderKind = "llm"
	KindTTS    ProviderKind = "tts"
	KindMemory ProviderKind = "memory"
)

// ProvidersDiff describes which provider entries changed between two
// configurations. Only changed kinds need their providers rebuilt; everything
// else keeps the already-constructed instance.
type ProvidersDiff struct {
	Changed []ProviderKind
}

// Has reports whether kind is among the changed entries.
func (d ProvidersDiff) Has(kind ProviderKind) bool {
	for _, k := range d.Changed {
		if k == kind {
			return true
		}
	}
	return false
}

// Empty reports whether nothing changed.
func (d ProvidersDiff) Empty() bool { return len(d.Changed) == 0 }

// DiffProviders compares two provider blocks and returns the kinds whose
// entries differ. A provider is rebuilt when any field of its entry changed,
// not just the name — a new model or API key equally requires a fresh client.
func DiffProviders(old, new ProvidersConfig) ProvidersDiff {
	var d ProvidersDiff
	pairs := []struct {
		kind     ProviderKind
		old, new ProviderEntry
	}{
		{KindVAD, old.VAD, new.VAD},
		{KindASR, old.ASR, new.ASR},
		{KindLLM, old.LLM, new.LLM},
		{KindTTS, old.TTS, new.TTS},
		{KindMemory, old.Memory, new.Memory},
	}
	for _, p := range pairs {
		if !entryEqual(p.old, p.new) {
			d.Changed = append(d.Changed, p.kind)
		}
	}
	return d
}

// entryEqual compares two provider entries including their Options maps.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	return reflect.DeepEqual(a.Options, b.Options)
}
