// Command studystop checks recorded hyperparameter-optimization studies
// against the study-level stopping rules.
//
//	studystop check study.yaml --patience 5
//	studystop replay study.yaml --k 4 --epsilon 0.0005
package main

import "os"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
