package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
    CREATE TABLE IF NOT EXISTS predictions (
        id TEXT PRIMARY KEY,
        patient_id TEXT,
        age REAL,
        sodium REAL,
        creatinine REAL,
        urea REAL,
        readmission TEXT NOT NULL,
        severity TEXT NOT NULL,
        risk_score REAL NOT NULL,
        high_risk_conditions TEXT,
        model_generation INTEGER,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_patient ON predictions(patient_id, created_at);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_name VARCHAR(50),
        classifier VARCHAR(50),
        accuracy REAL,
        precision REAL,
        recall REAL,
        roc_auc REAL,
        trained_at DATETIME,
        data_points INTEGER
    );
    `

// Store records served predictions and training runs in SQLite.
type Store struct {
	database *sql.DB
}

// Open opens (or creates) the database and its tables.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path required")
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// sqlite serialises writers anyway
	database.SetMaxOpenConns(1)
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, err
	}
	return &Store{database: database}, nil
}

func (s *Store) Close() error {
	return s.database.Close()
}

// Prediction is one served /predict outcome.
type Prediction struct {
	ID                 string     `json:"id"`
	PatientID          string     `json:"patient_id,omitempty"`
	Features           [4]float64 `json:"features"`
	Readmission        string     `json:"readmission"`
	Severity           string     `json:"severity"`
	RiskScore          float64    `json:"risk_score"`
	HighRiskConditions string     `json:"high_risk_conditions"`
	ModelGeneration    uint64     `json:"model_generation"`
	CreatedAt          time.Time  `json:"created_at"`
}

func (s *Store) SavePrediction(ctx context.Context, p Prediction) error {
	if p.ID == "" {
		return errors.New("prediction id required")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.database.ExecContext(ctx, `
        INSERT INTO predictions (
            id, patient_id, age, sodium, creatinine, urea,
            readmission, severity, risk_score, high_risk_conditions,
            model_generation, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		p.ID,
		p.PatientID,
		p.Features[0],
		p.Features[1],
		p.Features[2],
		p.Features[3],
		p.Readmission,
		p.Severity,
		p.RiskScore,
		p.HighRiskConditions,
		int64(p.ModelGeneration),
		p.CreatedAt,
	)
	return err
}

// QueryPredictions returns the newest predictions first. An empty patientID
// matches every patient.
func (s *Store) QueryPredictions(ctx context.Context, patientID string, limit int) ([]Prediction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.database.QueryContext(ctx, `
        SELECT id, patient_id, age, sodium, creatinine, urea,
               readmission, severity, risk_score, high_risk_conditions,
               model_generation, created_at
        FROM predictions
        WHERE ? = '' OR patient_id = ?
        ORDER BY created_at DESC
        LIMIT ?`, patientID, patientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	predictions := make([]Prediction, 0)
	for rows.Next() {
		var p Prediction
		var patient, conditions sql.NullString
		var generation int64
		err := rows.Scan(&p.ID, &patient, &p.Features[0], &p.Features[1], &p.Features[2], &p.Features[3],
			&p.Readmission, &p.Severity, &p.RiskScore, &conditions, &generation, &p.CreatedAt)
		if err != nil {
			return nil, err
		}
		p.PatientID = patient.String
		p.HighRiskConditions = conditions.String
		p.ModelGeneration = uint64(generation)
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

type TrainingLog struct {
	ModelName  string    `json:"model_name"`
	Classifier string    `json:"classifier"`
	Accuracy   float64   `json:"accuracy"`
	Precision  float64   `json:"precision"`
	Recall     float64   `json:"recall"`
	ROCAUC     float64   `json:"roc_auc,omitempty"`
	TrainedAt  time.Time `json:"trained_at"`
	DataPoints int       `json:"data_points"`
}

func (s *Store) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	if log.TrainedAt.IsZero() {
		log.TrainedAt = time.Now().UTC()
	}
	_, err := s.database.ExecContext(ctx, `
        INSERT INTO training_log (
            model_name, classifier, accuracy, precision, recall, roc_auc, trained_at, data_points
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, log.ModelName, log.Classifier, log.Accuracy, log.Precision, log.Recall, log.ROCAUC, log.TrainedAt, log.DataPoints)
	return err
}

func (s *Store) LoadTrainingLog(ctx context.Context) ([]TrainingLog, error) {
	rows, err := s.database.QueryContext(ctx, `
        SELECT model_name, classifier, accuracy, precision, recall, roc_auc, trained_at, data_points
        FROM training_log
        ORDER BY trained_at DESC, id DESC
    `)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ModelName, &log.Classifier, &log.Accuracy, &log.Precision, &log.Recall, &log.ROCAUC, &log.TrainedAt, &log.DataPoints); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
