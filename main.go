// Command tenderingest collects public tender notices.
package main

import "github.com/JakeFAU/tender-ingest/cmd"

func main() {
	cmd.Execute()
}
