package main

import (
	"flag"
	"log"

	"github.com/fieldbus/pvgate/internal/config"
)

func defaultPath(kind string) string {
	switch kind {
	case "meter":
		return "cmd/meterd/config.toml"
	case "bridge":
		return "cmd/bridged/config.toml"
	case "substation":
		return "cmd/substationd/config.toml"
	case "mapping":
		return "cmd/substationd/mapping.yaml"
	}
	return ""
}

func main() {
	kind := flag.String("kind", "meter", "config kind: meter|bridge|substation|mapping")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
			if path == "" {
				log.Fatalf("unknown kind: %s", *kind)
			}
		}

		var err error
		switch *kind {
		case "meter":
			_, err = config.LoadMeterConfig(path)
		case "bridge":
			_, err = config.LoadBridgeConfig(path)
		case "substation":
			_, err = config.LoadSubstationConfig(path)
		case "mapping":
			_, err = config.LoadMapping(path)
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
		if err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
		if target == "" {
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
