package dispatch

import (
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"

	"github.com/3leaps/batchfan/pkg/batch"
)

// LoadEnvironment builds the container environment passed to every job:
// entries from envFile (dotenv format, optional) followed by the named
// process variables. Later sources override earlier ones.
func LoadEnvironment(envFile string, passThrough []string) ([]batch.KeyValue, error) {
	vars := make(map[string]string)
	if envFile != "" {
		m, err := godotenv.Read(envFile)
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", envFile, err)
		}
		for k, v := range m {
			vars[k] = v
		}
	}
	for _, name := range passThrough {
		if v, ok := os.LookupEnv(name); ok {
			vars[name] = v
		}
	}

	kvs := make([]batch.KeyValue, 0, len(vars))
	for k, v := range vars {
		kvs = append(kvs, batch.KeyValue{Name: k, Value: v})
	}
	return FilterEnvironment(kvs), nil
}

// FilterEnvironment drops entries with an empty name or value and sorts the
// rest by name.
func FilterEnvironment(kvs []batch.KeyValue) []batch.KeyValue {
	out := make([]batch.KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		if kv.Name != "" && kv.Value != "" {
			out = append(out, kv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
