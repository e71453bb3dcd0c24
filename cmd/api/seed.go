package main

import (
	"time"

	"github.com/google/uuid"

	"panicdesk/internal/reports"
)

// seedLocalReports returns a collection of demo reports for local development.
func seedLocalReports() []reports.Report {
	now := time.Now().UTC()

	coord := func(v float64) *float64 { return &v }

	return []reports.Report{
		{
			ID:               uuid.New(),
			FullName:         "Ana Patricia Alvarez Gomez",
			EnrollmentNumber: "B210345",
			Campus:           "Ciudad Universitaria",
			ProgramName:      "Ingenieria en Desarrollo de Software",
			Email:            "ana.alvarez@unicach.mx",
			Latitude:         coord(16.7528),
			Longitude:        coord(-93.1156),
			Photos:           []string{"https://storage.example.com/panic/p-0001.jpg"},
			Audios:           []string{"https://storage.example.com/panic/a-0001.ogg"},
			Status:           reports.StatusPending,
			CreatedAt:        now.Add(-30 * time.Minute),
			UpdatedAt:        now.Add(-30 * time.Minute),
		},
		{
			ID:               uuid.New(),
			FullName:         "Carlos Mendez Ruiz",
			EnrollmentNumber: "B190872",
			Campus:           "Ciudad Universitaria",
			ProgramName:      "Licenciatura en Gastronomia",
			Email:            "carlos.mendez@unicach.mx",
			Latitude:         coord(16.7539),
			Longitude:        coord(-93.1172),
			Status:           reports.StatusInProgress,
			CreatedAt:        now.Add(-2 * time.Hour),
			UpdatedAt:        now.Add(-time.Hour),
		},
		{
			ID:               uuid.New(),
			FullName:         "Maria Fernanda Lopez Diaz",
			EnrollmentNumber: "B200114",
			Campus:           "Subsede Villacorzo",
			ProgramName:      "Licenciatura en Psicologia",
			Email:            "maria.lopez@unicach.mx",
			Photos:           []string{"https://storage.example.com/panic/p-0002.jpg", "https://storage.example.com/panic/p-0003.jpg"},
			Status:           reports.StatusResolved,
			DescriptionFacts: "Student reported being followed near the east gate. Contact established within two minutes; she had reached the library safely.",
			ActionsRealized:  "Security escorted the student home and patrols around the east gate were reinforced for the evening.",
			CreatedAt:        now.Add(-26 * time.Hour),
			UpdatedAt:        now.Add(-25 * time.Hour),
		},
		{
			ID:               uuid.New(),
			FullName:         "Jorge Hernandez Castillo",
			EnrollmentNumber: "B180933",
			Campus:           "Ciudad Universitaria",
			ProgramName:      "Ingenieria Ambiental",
			Email:            "jorge.hernandez@unicach.mx",
			Status:           reports.StatusCancelled,
			CreatedAt:        now.Add(-3 * 24 * time.Hour),
			UpdatedAt:        now.Add(-3 * 24 * time.Hour).Add(10 * time.Minute),
		},
	}
}
