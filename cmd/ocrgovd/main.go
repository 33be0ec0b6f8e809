// Command ocrgovd runs the OCR resource governor.
//
//	ocrgovd serve      run the governor and expose /metrics, /stats and /report
//	ocrgovd loadtest   drive simulated single and bulk scans and print the results
//	ocrgovd config     print the effective configuration read from OCR_* variables
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
