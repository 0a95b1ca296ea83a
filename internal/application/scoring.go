package application

import "math"

const earthRadiusKm = 6371.0

// defaultCuisines seeds room cuisines when members share nothing at all.
var defaultCuisines = []string{"Italian", "Chinese", "American", "Japanese"}

// defaultRoomRadiusKm is assumed for rooms that carry no radius aggregate yet.
const defaultRoomRadiusKm = 5.0

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// roomMatchScore rates how well a candidate room suits the given preferences.
// It returns (score, true), or (0, false) when the room is out of reach: a
// located user only matches rooms that also carry location data, and the
// distance must not exceed the smaller of the user's radius and the room's
// average radius.
func roomMatchScore(prefs Preferences, room Room) (float64, bool) {
	score := 0.0

	if prefs.Latitude != nil && prefs.Longitude != nil {
		if room.AverageLatitude == nil || room.AverageLongitude == nil {
			return 0, false
		}
		distance := haversineKm(*prefs.Latitude, *prefs.Longitude, *room.AverageLatitude, *room.AverageLongitude)

		roomRadius := room.AverageRadius
		if roomRadius <= 0 {
			roomRadius = defaultRoomRadiusKm
		}
		if distance > math.Min(prefs.RadiusKm, roomRadius) {
			return 0, false
		}
		score += math.Max(0, 50-distance*5)
	}

	common := 0
	seen := make(map[string]struct{}, len(room.Cuisines))
	for _, cuisine := range room.Cuisines {
		seen[cuisine] = struct{}{}
	}
	for _, cuisine := range prefs.Cuisines {
		if _, ok := seen[cuisine]; ok {
			common++
		}
	}
	score += float64(common) * 20

	score += math.Max(0, 30-math.Abs(prefs.Budget-room.AverageBudget))
	score += math.Max(0, 20-math.Abs(prefs.RadiusKm-room.AverageRadius)*2)

	return score, true
}

// aggregateCuisines combines member cuisine lists: the intersection when one
// exists, otherwise the union, otherwise a default list.
func aggregateCuisines(memberCuisines [][]string) []string {
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, cuisines := range memberCuisines {
		seen := make(map[string]struct{}, len(cuisines))
		for _, cuisine := range cuisines {
			if _, ok := seen[cuisine]; ok {
				continue
			}
			seen[cuisine] = struct{}{}
			if counts[cuisine] == 0 {
				order = append(order, cuisine)
			}
			counts[cuisine]++
		}
	}

	intersection := make([]string, 0, len(order))
	for _, cuisine := range order {
		if counts[cuisine] == len(memberCuisines) {
			intersection = append(intersection, cuisine)
		}
	}
	if len(intersection) > 0 {
		return intersection
	}
	if len(order) > 0 {
		return order
	}

	out := make([]string, len(defaultCuisines))
	copy(out, defaultCuisines)
	return out
}

// recomputeRoomAggregates refreshes the room's averages and cuisine list from
// the current member preference records.
func recomputeRoomAggregates(room *Room, members []User) {
	if len(members) == 0 {
		return
	}

	var budgetSum, radiusSum float64
	var latSum, lonSum float64
	located := 0
	cuisines := make([][]string, 0, len(members))

	for _, member := range members {
		budgetSum += member.Budget
		radiusSum += member.RadiusKm
		cuisines = append(cuisines, member.Cuisines)
		if member.Latitude != nil && member.Longitude != nil {
			latSum += *member.Latitude
			lonSum += *member.Longitude
			located++
		}
	}

	room.AverageBudget = budgetSum / float64(len(members))
	room.AverageRadius = radiusSum / float64(len(members))
	room.Cuisines = aggregateCuisines(cuisines)

	if located > 0 {
		lat := latSum / float64(located)
		lon := lonSum / float64(located)
		room.AverageLatitude = &lat
		room.AverageLongitude = &lon
	} else {
		room.AverageLatitude = nil
		room.AverageLongitude = nil
	}
}
