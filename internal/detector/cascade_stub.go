//go:build !gocv

package detector

import "github.com/sirupsen/logrus"

// openInProcess reports that no in-process model is compiled in.
func openInProcess(kind Kind, opts Options) (Detector, bool, error) {
	if kind == KindHaar && opts.CascadePath != "" {
		logrus.WithFields(logrus.Fields{"cascade": opts.CascadePath}).Warn("Built without gocv; using the detection worker for haar")
	}
	return nil, false, nil
}
