package config

import (
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// flagPaths maps command-line flag names to config paths so that flag
// overrides land on the same keys as the file and environment layers.
// Flags not listed here (e.g. --config) never reach the config tree.
var flagPaths = map[string]string{
	"grpc-port": "server.grpc_port",
	"http-port": "server.http_port",
}

// flagProvider adapts a pflag set into a koanf provider using flagPaths.
// Unchanged flags whose key is already set by a lower layer are skipped,
// so zero-valued defaults do not mask file or environment values.
func flagProvider(flags *pflag.FlagSet, k *koanf.Koanf) *posflag.Posflag {
	return posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
		path, ok := flagPaths[f.Name]
		if !ok {
			return "", nil
		}
		return path, posflag.FlagVal(flags, f)
	})
}
