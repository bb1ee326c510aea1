package main

import (
	"catalog-scraper/cmd/catalog-cli/commands"
	"catalog-scraper/lib/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
