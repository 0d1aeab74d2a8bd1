package cmd

import (
	"fmt"
)

const banner = `
 __      _______  _   _ ______
 \ \    / /  __ \| \ | |  ____|
  \ \  / /| |__) |  \| | |__ ___  _ __ __ _  ___
   \ \/ / |  ___/| . ` + "`" + ` |  __/ _ \| '__/ _` + "`" + ` |/ _ \
    \  /  | |    | |\  | | | (_) | | | (_| |  __/
     \/   |_|    |_| \_|_|  \___/|_|  \__, |\___|
                                       __/ |
                                      |___/
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  OpenVPN Certificate Orchestrator - Version %s\x1b[0m\n\n", Version)
}
