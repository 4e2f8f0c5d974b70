package store

import (
	"encoding/json"
	"fmt"
	"strconv"

	"teeclub-fetcher/providers"
)

// courseRow mirrors the courses table joined to its city. The city join is
// required: a course without a region assignment is never fetched.
type courseRow struct {
	providers.Course
	Cities struct {
		Name     string `json:"name"`
		RegionID int    `json:"region_id"`
	} `json:"cities"`
}

// CoursesByRegion loads every course in the given regions whose external_api
// is one of the registered providers. Attributes stay opaque here; each
// adapter decodes its own bag.
func (s *Store) CoursesByRegion(regionIDs []int, externalAPIs []string) ([]providers.Course, error) {
	var regions []string = make([]string, len(regionIDs))
	for i, id := range regionIDs {
		regions[i] = strconv.Itoa(id)
	}

	data, _, err := s.client.From("courses").
		Select("*, cities!inner(name, region_id)", "", false).
		In("cities.region_id", regions).
		In("external_api", externalAPIs).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("load courses: %w", err)
	}

	var rows []courseRow
	err = json.Unmarshal(data, &rows)
	if err != nil {
		return nil, fmt.Errorf("decode courses: %w", err)
	}

	var courses []providers.Course = make([]providers.Course, 0, len(rows))
	for _, row := range rows {
		var course providers.Course = row.Course
		course.City = row.Cities.Name
		courses = append(courses, course)
	}
	return courses, nil
}
