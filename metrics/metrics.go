// Package metrics defines the prometheus collectors of the versioning core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Keys for status labels.
const (
	Fail = "fail"
	Ok   = "ok"
)

var (
	PromotionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_promotions_total",
		Help: "Cumulative number of promotion attempts, by outcome.",
	}, []string{"status"})

	RotationStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_rotation_steps_total",
		Help: "Cumulative number of completed generation rename steps (table plus prefix).",
	})

	ObjectsCopiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_objects_copied_total",
		Help: "Cumulative number of objects copied during prefix renames.",
	})

	ObjectsRemovedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_objects_removed_total",
		Help: "Cumulative number of objects removed.",
	})

	GenerationsDestroyedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_generations_destroyed_total",
		Help: "Cumulative number of archived generations destroyed by retention.",
	})

	RepairsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_repairs_total",
		Help: "Cumulative number of repair passes, by outcome.",
	}, []string{"status"})
)
