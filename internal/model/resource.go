package model

import "time"

// リソース名。キャッシュキーのスコープおよびAPIパスとして使用する。
const (
	ResourceAppointments  = "appointments"
	ResourcePatients      = "patients"
	ResourceDoctors       = "doctors"
	ResourceMedications   = "medications"
	ResourcePrescriptions = "prescriptions"
	ResourceUsers         = "users"
	ResourcePayments      = "payments"
)

// Resources は全リソース名を定義順に返す。
func Resources() []string {
	return []string{
		ResourceAppointments,
		ResourcePatients,
		ResourceDoctors,
		ResourceMedications,
		ResourcePrescriptions,
		ResourceUsers,
		ResourcePayments,
	}
}

// AppointmentStatus は予約の状態を表す。
type AppointmentStatus string

const (
	AppointmentStatusScheduled AppointmentStatus = "scheduled"
	AppointmentStatusCompleted AppointmentStatus = "completed"
	AppointmentStatusCancelled AppointmentStatus = "cancelled"
)

// Appointment は診察予約を表す。
type Appointment struct {
	ID          string            `json:"id"`
	PatientID   string            `json:"patientId"`
	DoctorID    string            `json:"doctorId"`
	ScheduledAt time.Time         `json:"scheduledAt"`
	Status      AppointmentStatus `json:"status"`
	Reason      string            `json:"reason,omitempty"`
	Notes       string            `json:"notes,omitempty"`
}

// Patient は患者を表す。
type Patient struct {
	ID          string `json:"id"`
	UserID      string `json:"userId,omitempty"`
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	DateOfBirth string `json:"dateOfBirth,omitempty"` // YYYY-MM-DD
	Gender      string `json:"gender,omitempty"`
	Address     string `json:"address,omitempty"`
	BloodType   string `json:"bloodType,omitempty"`
}

// Doctor は医師を表す。
type Doctor struct {
	ID             string `json:"id"`
	UserID         string `json:"userId,omitempty"`
	Name           string `json:"name"`
	Email          string `json:"email,omitempty"`
	Phone          string `json:"phone,omitempty"`
	Specialization string `json:"specialization"`
	Available      bool   `json:"available"`
}

// Medication は医薬品マスタを表す。
type Medication struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Dosage       string  `json:"dosage,omitempty"`
	Form         string  `json:"form,omitempty"`
	Manufacturer string  `json:"manufacturer,omitempty"`
	Stock        int     `json:"stock"`
	Price        float64 `json:"price"`
}

// Prescription は処方箋を表す。
type Prescription struct {
	ID           string    `json:"id"`
	PatientID    string    `json:"patientId"`
	DoctorID     string    `json:"doctorId"`
	MedicationID string    `json:"medicationId"`
	Dosage       string    `json:"dosage"`
	Frequency    string    `json:"frequency"`
	DurationDays int       `json:"durationDays"`
	Notes        string    `json:"notes,omitempty"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// PaymentStatus は支払いの状態を表す。
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

// Payment は診察料などの支払いを表す。
type Payment struct {
	ID            string        `json:"id"`
	PatientID     string        `json:"patientId"`
	AppointmentID string        `json:"appointmentId,omitempty"`
	Amount        float64       `json:"amount"`
	Currency      string        `json:"currency"`
	Method        string        `json:"method,omitempty"`
	Status        PaymentStatus `json:"status"`
	PaidAt        *time.Time    `json:"paidAt,omitempty"`
}
