package loadgen

import "time"

// QuickPreset は動作確認用の少数接続
func QuickPreset() Config {
	return Config{
		Name:        "quick",
		Description: "A few sequential-ish sessions for verification",
		Addr:        "127.0.0.1:25000",
		Connections: 20,
		Concurrency: 2,
		Query:       "東京",
		Timeout:     5 * time.Second,
	}
}

// BurstPreset はキュー容量を超える同時接続を一度に張る
// 拒否が発生することを確認する用途
func BurstPreset() Config {
	return Config{
		Name:        "burst",
		Description: "Concurrent burst that overflows the server queue",
		Addr:        "127.0.0.1:25000",
		Connections: 200,
		Concurrency: 32,
		Query:       "東京",
		Timeout:     5 * time.Second,
	}
}

// StressPreset は長めの高負荷
func StressPreset() Config {
	return Config{
		Name:        "stress",
		Description: "Sustained high connection rate",
		Addr:        "127.0.0.1:25000",
		Connections: 2000,
		Concurrency: 16,
		Query:       "1000001",
		Timeout:     10 * time.Second,
	}
}

// GetPreset は名前からプリセットを取得する
func GetPreset(name string) (Config, bool) {
	presets := map[string]func() Config{
		"quick":  QuickPreset,
		"burst":  BurstPreset,
		"stress": StressPreset,
	}

	if fn, ok := presets[name]; ok {
		return fn(), true
	}
	return Config{}, false
}

// ListPresets は利用可能なプリセット名を返す
func ListPresets() []string {
	return []string{"quick", "burst", "stress"}
}
