// Package providers registers all known backends.
// Import this package to make them available via provider.New():
//
//	import _ "github.com/born-ml/charprefix/internal/provider/providers"
package providers

import (
	_ "github.com/born-ml/charprefix/internal/provider/gemini"
	_ "github.com/born-ml/charprefix/internal/provider/openai"
)
