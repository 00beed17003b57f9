package currency

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/i474232898/weather-currency-cache/internal/apperr"
)

// Normalize extracts the from→to rate out of a rate table quoted against from.
func Normalize(raw RawRates, from, to string) (Rate, error) {
	if len(raw.ConversionRates) == 0 {
		return Rate{}, apperr.NewMalformed("currency payload: missing conversion_rates", nil)
	}

	var table map[string]float64
	if err := json.Unmarshal(raw.ConversionRates, &table); err != nil {
		return Rate{}, apperr.NewMalformed("currency payload: bad conversion_rates", err)
	}
	if table == nil {
		return Rate{}, apperr.NewMalformed("currency payload: conversion_rates is null", nil)
	}

	to = strings.ToUpper(to)
	rate, ok := table[to]
	if !ok {
		return Rate{}, apperr.NewUnknownCurrency(to)
	}
	if !validRate(rate) {
		return Rate{}, apperr.NewMalformed("currency payload: rate for "+to+" is not positive", nil)
	}

	return Rate{
		From: strings.ToUpper(from),
		To:   to,
		Rate: rate,
	}, nil
}

// DecodeRate parses a cached Rate, rejecting non-positive values.
func DecodeRate(b []byte) (Rate, error) {
	var r Rate
	if err := json.Unmarshal(b, &r); err != nil {
		return Rate{}, err
	}
	if !validRate(r.Rate) {
		return Rate{}, errors.New("cached rate is not positive")
	}
	return r, nil
}

func validRate(r float64) bool {
	return r > 0 && !math.IsInf(r, 0) && !math.IsNaN(r)
}
