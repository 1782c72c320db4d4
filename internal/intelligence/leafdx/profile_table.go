package leafdx

// Table builders keep the profile definitions close to their tabular form.

func sig(fs ...Feature) Signal { return Signal(fs) }

func above(f Feature, t float64) Condition { return Condition{Signal: sig(f), Op: Above, Threshold: t} }
func below(f Feature, t float64) Condition { return Condition{Signal: sig(f), Op: Below, Threshold: t} }
func between(f Feature, lo, hi float64) Condition {
	return Condition{Signal: sig(f), Op: Between, Threshold: lo, Upper: hi}
}

func tier(w float64, when ...Condition) Tier { return Tier{When: when, Weight: w} }
func rule(tiers ...Tier) Rule                { return Rule{Tiers: tiers} }

// one is a rule with a single tier holding a single condition.
func one(c Condition, w float64) Rule { return rule(tier(w, c)) }

// whiteSignal combines HSV and RGB white evidence for powdery mildew.
var whiteSignal = sig(FeatWhitePct, FeatWhiteRatio)

// simpleHealthy is the reduced healthy signature shared by the minor crops.
func simpleHealthy(label, crop string, withMidGreen bool) Profile {
	green := rule(tier(0.40, above(FeatGreenPct, 40)))
	if withMidGreen {
		green = rule(tier(0.40, above(FeatGreenPct, 40)), tier(0.20, above(FeatGreenPct, 25)))
	}
	return Profile{
		Label:   label,
		Crop:    crop,
		Healthy: true,
		Rules: []Rule{
			green,
			one(below(FeatCoverage, 5), 0.30),
			one(below(FeatBrownPct, 3), 0.15),
			one(below(FeatDarkPct, 3), 0.15),
		},
	}
}

// builtinProfiles returns the shipped profile table in registration order.
func builtinProfiles() []Profile {
	profiles := []Profile{
		// ── tomato ──────────────────────────────────────────────────────────
		{
			Label: "Tomato_healthy", Crop: "tomato", Healthy: true,
			Rules: []Rule{
				rule(tier(0.35, above(FeatGreenPct, 40)), tier(0.20, above(FeatGreenPct, 25))),
				rule(tier(0.25, below(FeatCoverage, 5)), tier(0.10, below(FeatCoverage, 10))),
				one(below(FeatYellowPct, 3), 0.15),
				one(below(FeatBrownPct, 3), 0.15),
				one(below(FeatDarkRatio, 2), 0.10),
			},
		},
		{
			Label: "Tomato_late_blight", Crop: "tomato",
			Rules: []Rule{
				rule(tier(0.20, above(FeatDarkPct, 10)), tier(0.10, above(FeatDarkPct, 5))),
				rule(tier(0.15, above(FeatBrownPct, 8)), tier(0.08, above(FeatBrownPct, 4))),
				rule(tier(0.25, above(FeatCoverage, 25)), tier(0.15, above(FeatCoverage, 12)), tier(0.05, above(FeatCoverage, 5))),
				rule(tier(0.15, below(FeatGreenPct, 30)), tier(0.08, below(FeatGreenPct, 45))),
				rule(tier(0.15, above(FeatDarkRatio, 8)), tier(0.08, above(FeatDarkRatio, 3))),
				one(above(FeatRoughness, 0.12), 0.10),
			},
		},
		{
			Label: "Tomato_early_blight", Crop: "tomato",
			Rules: []Rule{
				rule(tier(0.25, above(FeatBrownPct, 6)), tier(0.12, above(FeatBrownPct, 3))),
				rule(tier(0.20, above(FeatYellowPct, 5)), tier(0.10, above(FeatYellowPct, 2))),
				rule(tier(0.20, between(FeatCoverage, 8, 40)), tier(0.10, above(FeatCoverage, 5))),
				one(between(FeatGreenPct, 20, 55), 0.10),
				one(above(FeatEdgeDensity, 0.08), 0.15),
				one(above(FeatSpotCount, 10), 0.10),
			},
		},
		{
			Label: "Tomato_leaf_mold", Crop: "tomato",
			Rules: []Rule{
				rule(tier(0.30, above(FeatYellowPct, 8)), tier(0.18, above(FeatYellowPct, 4)), tier(0.08, above(FeatYellowPct, 2))),
				rule(tier(0.15, above(FeatGreyPct, 5)), tier(0.07, above(FeatGreyPct, 2))),
				one(between(FeatBrownPct, 2, 12), 0.10),
				one(below(FeatDarkPct, 8), 0.10),
				one(between(FeatGreenPct, 15, 55), 0.10),
				one(above(FeatUniformity, 0.5), 0.10),
				one(below(FeatCoverage, 20), 0.10),
				one(above(FeatDarkPct, 15), -0.15),
			},
		},
		{
			Label: "Tomato_bacterial_spot", Crop: "tomato",
			Rules: []Rule{
				rule(tier(0.25, above(FeatSpotCount, 30)), tier(0.15, above(FeatSpotCount, 15))),
				one(below(FeatAvgSpotSize, 200), 0.15),
				one(above(FeatDarkRatio, 3), 0.15),
				one(above(FeatYellowPct, 3), 0.15),
				one(below(FeatBrownPct, 8), 0.10),
				one(above(FeatCoverage, 5), 0.10),
			},
		},
		{
			Label: "Tomato_septoria_leaf_spot", Crop: "tomato",
			Rules: []Rule{
				rule(tier(0.25, above(FeatSpotCount, 40)), tier(0.15, above(FeatSpotCount, 20))),
				one(below(FeatAvgSpotSize, 150), 0.20),
				rule(tier(0.20, above(FeatGreyPct, 4)), tier(0.10, above(FeatGreyPct, 2))),
				one(below(FeatBrownPct, 6), 0.10),
				one(above(FeatDarkRatio, 2), 0.10),
			},
		},
		{
			Label: "Tomato_spider_mites", Crop: "tomato",
			Rules: []Rule{
				rule(tier(0.30, above(FeatYellowPct, 10)), tier(0.18, above(FeatYellowPct, 5))),
				one(below(FeatBrownPct, 4), 0.15),
				one(below(FeatDarkPct, 5), 0.15),
				one(above(FeatGreenPct, 20), 0.10),
				one(below(FeatEdgeDensity, 0.06), 0.10),
				one(above(FeatWhiteRatio, 3), 0.10),
			},
		},
		{
			Label: "Tomato_target_spot", Crop: "tomato",
			Rules: []Rule{
				rule(tier(0.25, above(FeatBrownPct, 8)), tier(0.12, above(FeatBrownPct, 4))),
				rule(tier(0.20, between(FeatCoverage, 10, 35)), tier(0.10, above(FeatCoverage, 5))),
				one(above(FeatEdgeDensity, 0.08), 0.15),
				one(above(FeatYellowPct, 2), 0.10),
				one(between(FeatSpotCount, 5, 30), 0.10),
			},
		},
		{
			Label: "Tomato_tomato_mosaic_virus", Crop: "tomato",
			Rules: []Rule{
				rule(
					tier(0.30, above(FeatYellowPct, 6), above(FeatGreenPct, 20)),
					tier(0.18, above(FeatYellowPct, 3), above(FeatGreenPct, 15)),
				),
				one(below(FeatBrownPct, 4), 0.15),
				one(below(FeatDarkPct, 5), 0.15),
				one(above(FeatRoughness, 0.08), 0.10),
				one(below(FeatCoverage, 10), 0.10),
			},
		},
		{
			Label: "Tomato_yellow_leaf_curl_virus", Crop: "tomato",
			Rules: []Rule{
				rule(tier(0.35, above(FeatYellowPct, 15)), tier(0.20, above(FeatYellowPct, 8)), tier(0.10, above(FeatYellowPct, 4))),
				one(above(FeatGreenPct, 15), 0.10),
				one(below(FeatDarkPct, 5), 0.15),
				one(below(FeatBrownPct, 4), 0.10),
				one(above(FeatRoughness, 0.10), 0.10),
				one(below(FeatCoverage, 8), 0.10),
			},
		},

		// ── potato ──────────────────────────────────────────────────────────
		{
			Label: "Potato_early_blight", Crop: "potato",
			Rules: []Rule{
				rule(tier(0.25, above(FeatBrownPct, 5)), tier(0.12, above(FeatBrownPct, 3))),
				one(above(FeatYellowPct, 3), 0.15),
				one(between(FeatCoverage, 5, 35), 0.20),
				one(above(FeatEdgeDensity, 0.07), 0.15),
				one(above(FeatGreenPct, 20), 0.10),
			},
		},
		{
			Label: "Potato_late_blight", Crop: "potato",
			Rules: []Rule{
				rule(tier(0.25, above(FeatDarkPct, 8)), tier(0.12, above(FeatDarkPct, 4))),
				one(above(FeatBrownPct, 5), 0.15),
				rule(tier(0.25, above(FeatCoverage, 20)), tier(0.12, above(FeatCoverage, 10))),
				one(below(FeatGreenPct, 35), 0.10),
				one(above(FeatDarkRatio, 5), 0.10),
			},
		},
		simpleHealthy("Potato_healthy", "potato", true),

		// ── apple ───────────────────────────────────────────────────────────
		{
			Label: "Apple_scab", Crop: "apple",
			Rules: []Rule{
				one(above(FeatBrownPct, 5), 0.25),
				one(above(FeatDarkPct, 4), 0.20),
				one(above(FeatCoverage, 8), 0.20),
				one(above(FeatRoughness, 0.10), 0.15),
				one(above(FeatGreenPct, 15), 0.10),
			},
		},
		{
			Label: "Apple_black_rot", Crop: "apple",
			Rules: []Rule{
				rule(tier(0.30, above(FeatDarkPct, 10)), tier(0.15, above(FeatDarkPct, 5))),
				one(above(FeatBrownPct, 5), 0.20),
				one(above(FeatCoverage, 10), 0.20),
				one(above(FeatEdgeDensity, 0.08), 0.10),
			},
		},
		{
			Label: "Apple_cedar_apple_rust", Crop: "apple",
			Rules: []Rule{
				rule(tier(0.30, above(FeatYellowPct, 8)), tier(0.15, above(FeatYellowPct, 4))),
				one(above(FeatRed, 0.4), 0.20),
				one(below(FeatBrownPct, 5), 0.15),
				one(above(FeatGreenPct, 15), 0.10),
			},
		},
		simpleHealthy("Apple_healthy", "apple", true),

		// ── grape ───────────────────────────────────────────────────────────
		{
			Label: "Grape_black_rot", Crop: "grape",
			Rules: []Rule{
				one(above(FeatDarkPct, 8), 0.25),
				one(above(FeatBrownPct, 5), 0.20),
				one(above(FeatSpotCount, 10), 0.15),
				one(above(FeatCoverage, 10), 0.20),
				one(above(FeatRoughness, 0.10), 0.10),
			},
		},
		{
			Label: "Grape_esca", Crop: "grape",
			Rules: []Rule{
				one(above(FeatYellowPct, 5), 0.25),
				one(above(FeatBrownPct, 4), 0.20),
				one(above(FeatRed, 0.35), 0.15),
				one(below(FeatGreenPct, 40), 0.15),
			},
		},
		{
			Label: "Grape_leaf_blight", Crop: "grape",
			Rules: []Rule{
				one(above(FeatBrownPct, 6), 0.25),
				one(above(FeatCoverage, 10), 0.20),
				one(above(FeatEdgeDensity, 0.07), 0.15),
				one(above(FeatYellowPct, 3), 0.10),
			},
		},
		simpleHealthy("Grape_healthy", "grape", false),

		// ── corn ────────────────────────────────────────────────────────────
		{
			Label: "Corn_cercospora_leaf_spot", Crop: "corn",
			Rules: []Rule{
				one(above(FeatGreyPct, 5), 0.25),
				one(above(FeatYellowPct, 4), 0.20),
				one(above(FeatSpotCount, 10), 0.20),
				one(above(FeatBrownPct, 3), 0.15),
			},
		},
		{
			Label: "Corn_common_rust", Crop: "corn",
			Rules: []Rule{
				one(above(FeatBrownPct, 6), 0.25),
				one(above(FeatRed, 0.35), 0.25),
				one(above(FeatSpotCount, 20), 0.20),
				one(below(FeatAvgSpotSize, 200), 0.15),
			},
		},
		{
			Label: "Corn_northern_leaf_blight", Crop: "corn",
			Rules: []Rule{
				one(above(FeatGreyPct, 4), 0.20),
				one(above(FeatBrownPct, 3), 0.15),
				one(above(FeatCoverage, 10), 0.20),
				one(above(FeatEdgeDensity, 0.08), 0.20),
			},
		},
		simpleHealthy("Corn_healthy", "corn", false),

		// ── minor crops ─────────────────────────────────────────────────────
		simpleHealthy("Cherry_healthy", "cherry", true),
		simpleHealthy("Peach_healthy", "peach", true),
		simpleHealthy("Pepper_bell_healthy", "pepper", true),
		simpleHealthy("Strawberry_healthy", "strawberry", true),
		simpleHealthy("Soybean_healthy", "soybean", true),
		simpleHealthy("Blueberry_healthy", "blueberry", true),
		simpleHealthy("Raspberry_healthy", "raspberry", true),
		{
			Label: "Cherry_powdery_mildew", Crop: "cherry",
			Rules: []Rule{
				rule(
					tier(0.30, Condition{Signal: whiteSignal, Op: Above, Threshold: 8}),
					tier(0.15, Condition{Signal: whiteSignal, Op: Above, Threshold: 4}),
				),
				one(above(FeatGreenPct, 15), 0.15),
				one(below(FeatBrownPct, 5), 0.15),
				one(above(FeatUniformity, 0.5), 0.10),
			},
		},
		{
			Label: "Peach_bacterial_spot", Crop: "peach",
			Rules: []Rule{
				one(above(FeatSpotCount, 20), 0.25),
				one(above(FeatDarkRatio, 4), 0.20),
				one(above(FeatBrownPct, 3), 0.15),
				one(above(FeatYellowPct, 2), 0.15),
			},
		},
		{
			Label: "Pepper_pepper_bell_bacterial_spot", Crop: "pepper",
			Rules: []Rule{
				one(above(FeatSpotCount, 20), 0.25),
				one(above(FeatDarkRatio, 4), 0.20),
				one(above(FeatBrownPct, 3), 0.15),
				one(above(FeatYellowPct, 3), 0.15),
			},
		},
		{
			Label: "Strawberry_leaf_scorch", Crop: "strawberry",
			Rules: []Rule{
				one(above(FeatBrownPct, 5), 0.25),
				one(above(FeatDarkPct, 4), 0.20),
				one(above(FeatRed, 0.3), 0.15),
				one(above(FeatCoverage, 8), 0.15),
			},
		},
		{
			Label: "Soybean_frogeye_leaf_spot", Crop: "soybean",
			Rules: []Rule{
				one(above(FeatGreyPct, 5), 0.25),
				one(above(FeatDarkPct, 3), 0.20),
				one(above(FeatSpotCount, 15), 0.20),
				one(below(FeatAvgSpotSize, 300), 0.15),
			},
		},
		{
			Label: "Squash_powdery_mildew", Crop: "squash",
			Rules: []Rule{
				rule(
					tier(0.35, Condition{Signal: whiteSignal, Op: Above, Threshold: 10}),
					tier(0.18, Condition{Signal: whiteSignal, Op: Above, Threshold: 5}),
				),
				one(above(FeatGreenPct, 15), 0.15),
				one(above(FeatUniformity, 0.5), 0.15),
			},
		},
		{
			Label: "Orange_haunglongbing", Crop: "orange",
			Rules: []Rule{
				rule(tier(0.30, above(FeatYellowPct, 10)), tier(0.15, above(FeatYellowPct, 5))),
				one(between(FeatGreenPct, 15, 50), 0.20),
				one(below(FeatBrownPct, 5), 0.15),
			},
		},
	}
	return profiles
}
