package config

// BrowserConfig controls how the executor attaches to Chromium.
type BrowserConfig struct {
	// DebuggerURL attaches to an already-running browser. Empty launches one.
	DebuggerURL string `yaml:"debugger_url"`

	Headless       bool `yaml:"headless"`
	ViewportWidth  int  `yaml:"viewport_width"`
	ViewportHeight int  `yaml:"viewport_height"`

	// URLPatterns identify the platform tab among all open pages.
	URLPatterns []string `yaml:"url_patterns"`

	// HomeURL is where BACK_TO_TIMELINE navigates.
	HomeURL string `yaml:"home_url"`
}

func defaultBrowser() BrowserConfig {
	return BrowserConfig{
		ViewportWidth:  1280,
		ViewportHeight: 900,
		URLPatterns: []string{
			"https://www.threads.net/*",
			"https://threads.net/*",
			"https://www.threads.com/*",
			"https://threads.com/*",
		},
		HomeURL: "https://www.threads.net/",
	}
}
