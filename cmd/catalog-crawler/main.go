// Package main is the catalog-crawler entrypoint.
package main

import "github.com/JakeFAU/catalog-crawler/cmd"

func main() {
	cmd.Execute()
}
