// Package main is the AWS Lambda entry point for stateless session grading.
package main

import (
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"gridsim/internal/config"
	"gridsim/internal/grading"
	"gridsim/internal/logger"
	lambdatransport "gridsim/internal/transport/lambdatransport"
)

func main() {
	rt, err := config.LoadRuntime(config.NewViper(), os.Getenv("GRIDSIM_CONFIG"))
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}

	level, _ := logger.ParseLevel(rt.LogLevel)
	logger.Default.SetLevel(level)

	criteria, err := grading.Compile(rt.Grading.PassCriteria)
	if err != nil {
		logger.Error("", "合格条件エラー: %v", err)
		os.Exit(1)
	}

	h := lambdatransport.NewHandler(criteria, logger.Default)
	lambda.Start(h.Grade)
}
