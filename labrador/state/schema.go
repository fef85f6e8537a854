// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package state

// schema is applied on every open. Every table lives here so that no other
// package carries table knowledge; upper layers reach rows only through the
// typed methods on StateStore.
//
// ocr_data.reserved_at is the reservation marker: NULL means the job is
// available to the pipeline and visible to clients, non-NULL means an
// extraction attempt is in flight. Hard delete removes the row in either
// state.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS workspaces (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    owner_id INTEGER NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (name, owner_id),
    FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS ocr_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workspace_id INTEGER NOT NULL,
    report_image TEXT NOT NULL,
    ocr_primitive TEXT NOT NULL,
    reserved_at DATETIME,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS lab_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    workspace_id INTEGER NOT NULL,
    patient TEXT NOT NULL CHECK(length(patient) <= 200),
    report_time DATETIME NOT NULL,
    doctor TEXT,
    hospital TEXT,
    report_image TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (workspace_id) REFERENCES workspaces(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS lab_report_items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    report_id INTEGER NOT NULL,
    item_name TEXT NOT NULL CHECK(length(item_name) <= 200),
    result TEXT NOT NULL CHECK(length(result) <= 500),
    unit TEXT CHECK(unit IS NULL OR length(unit) <= 50),
    reference_value TEXT CHECK(reference_value IS NULL OR length(reference_value) <= 200),
    FOREIGN KEY (report_id) REFERENCES lab_reports(id) ON DELETE CASCADE
);

-- Reservation scans walk available jobs in insertion order.
CREATE INDEX IF NOT EXISTS idx_ocr_data_available ON ocr_data(created_at, id) WHERE reserved_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_ocr_data_workspace ON ocr_data(workspace_id);
CREATE INDEX IF NOT EXISTS idx_workspaces_owner ON workspaces(owner_id);
CREATE INDEX IF NOT EXISTS idx_lab_reports_workspace ON lab_reports(workspace_id);
CREATE INDEX IF NOT EXISTS idx_lab_reports_patient ON lab_reports(patient);
CREATE INDEX IF NOT EXISTS idx_lab_reports_report_time ON lab_reports(report_time);
CREATE INDEX IF NOT EXISTS idx_lab_report_items_report ON lab_report_items(report_id);
CREATE INDEX IF NOT EXISTS idx_lab_report_items_name ON lab_report_items(item_name);
`
