package banner

import (
	"fmt"

	"publicsquare/pkg/config"
)

const banner = `
██████╗ ██╗   ██╗██████╗ ██╗     ██╗ ██████╗███████╗ ██████╗ ██╗   ██╗ █████╗ ██████╗ ███████╗
██╔══██╗██║   ██║██╔══██╗██║     ██║██╔════╝██╔════╝██╔═══██╗██║   ██║██╔══██╗██╔══██╗██╔════╝
██████╔╝██║   ██║██████╔╝██║     ██║██║     ███████╗██║   ██║██║   ██║███████║██████╔╝█████╗
██╔═══╝ ██║   ██║██╔══██╗██║     ██║██║     ╚════██║██║▄▄ ██║██║   ██║██╔══██║██╔══██╗██╔══╝
██║     ╚██████╔╝██████╔╝███████╗██║╚██████╗███████║╚██████╔╝╚██████╔╝██║  ██║██║  ██║███████╗
╚═╝      ╚═════╝ ╚═════╝ ╚══════╝╚═╝ ╚═════╝╚══════╝ ╚══▀▀═╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝
`

// PrintWithEff prints the banner and a startup summary derived from the
// effective config.
func PrintWithEff(eff config.EffectiveConfigResult, version string) {
	addr := eff.Addr
	if addr == "" && eff.Config != nil {
		addr = eff.Config.Addr()
	}
	src := eff.Source
	if src == "" {
		src = "flags"
	}

	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	if eff.DBPath != "" {
		fmt.Printf("DB Path:  %s (pebble)\n", eff.DBPath)
	} else {
		fmt.Println("DB Path:  none (in-memory, state lost on restart)")
	}
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	fmt.Printf("Config:   %s\n", src)
	if eff.Config != nil {
		fmt.Printf("Analysis: %s\n", eff.Config.Analysis.BaseURL)
	}

	fmt.Println("\n== Examples ===================================================")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/rooms' -d '{\"topic\": \"climate policy\"}'")
	fmt.Println("curl -X POST 'http://<host>:<port>/v1/rooms/<id>/messages' -d '{\"author_id\": \"u1\", \"content\": \"hello\"}'")
	fmt.Println("curl 'http://<host>:<port>/v1/rooms/<id>/factchecks'")

	fmt.Println("\n== Production? =================================================")
	tlsOK := eff.Config != nil &&
		eff.Config.Server.TLS.CertFile != "" && eff.Config.Server.TLS.KeyFile != ""
	if tlsOK {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if eff.DBPath != "" {
		fmt.Println("- Storage: pebble (durable)")
	} else {
		fmt.Println("- Storage: memory (set --db for durability)")
	}
	if eff.Config != nil && eff.Config.Archive.Enabled {
		fmt.Printf("- Archive: enabled (cron %q)\n", eff.Config.Archive.Cron)
	} else {
		fmt.Println("- Archive: disabled (closed rooms accumulate)")
	}
}
