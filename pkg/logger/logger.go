// Package logger builds the zap logger every component receives by
// injection; nothing in the engine logs through a global.
package logger

import "go.uber.org/zap"

func New(development bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if development {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
