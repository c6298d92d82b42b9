package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/genoplot/genoplot-backend/internal/vcf"
)

// vcfstat prints quick shape/missingness stats for a VCF, handy when
// preparing panel files.
//
//	vcfstat panel.vcf.gz
func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vcfstat <file.vcf[.gz]>")
		os.Exit(2)
	}

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "vcfstat: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	reader, err := vcf.NewReader(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vcfstat: %v\n", err)
		os.Exit(1)
	}

	samples := reader.SampleNames()
	sites := 0
	missing := 0
	calls := 0
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "vcfstat: %v\n", err)
			os.Exit(1)
		}
		sites++
		for _, d := range rec.Dosages {
			calls++
			if d == vcf.DosageMissing {
				missing++
			}
		}
	}

	fmt.Printf("samples:        %d\n", len(samples))
	fmt.Printf("biallelic sites: %d\n", sites)
	fmt.Printf("skipped sites:   %d\n", reader.SkippedSites())
	if calls > 0 {
		fmt.Printf("missing calls:   %d (%.2f%%)\n", missing, float64(missing)/float64(calls)*100)
	}
	if len(samples) > 0 && len(samples) <= 10 {
		fmt.Printf("sample names:    %v\n", samples)
	}
}
