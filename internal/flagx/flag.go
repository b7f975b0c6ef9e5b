// Package flagx lets several independent FlagSets share os.Args. Each
// config loader picks out only its own flags and parses them with
// flag.ContinueOnError, so a flag meant for one loader is never an
// "undefined flag" error in another.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs keeps the flags named in allowed together with their values
// and drops everything else. Both "-k value" and "-k=value" are
// recognised. A token starting with "-" is never taken as a value.
//
//	FilterArgs([]string{"-a", ":5002", "-x", "-c=relay.json"}, []string{"-c"})
//	// []string{"-c=relay.json"}
func FilterArgs(args []string, allowed []string) []string {
	want := make(map[string]bool, len(allowed))
	for _, f := range allowed {
		want[f] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, ok := strings.Cut(arg, "="); ok && strings.HasPrefix(arg, "-") {
			if want[name] {
				out = append(out, arg)
			}
			continue
		}

		if !want[arg] {
			continue
		}
		out = append(out, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			i++
			out = append(out, args[i])
		}
	}
	return out
}

// JsonConfigFlags returns the config file named by -c or -config, or ""
// when neither is given.
func JsonConfigFlags() string {
	var path string

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(os.Args[1:], []string{"-c", "-config"}))

	return path
}
