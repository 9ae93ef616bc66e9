// Package http exposes the mess attendance API over JSON.
//
// Identity is asserted by the upstream gateway through the X-User-ID and
// X-User-Role headers; requests under /api/v1 without them are rejected with
// 401. Errors carry a stable error_code taken from application.ErrorKind.
//
// The router exposes the following endpoints:
//   - GET /api/v1/meals, PUT /api/v1/meals/{mealType}: the daily schedule.
//     Editing is restricted to administrators.
//   - GET /api/v1/meals/current: the active, upcoming and last finished slot.
//   - GET /api/v1/meals/{mealType}/deadline?date=: the confirmation cut-off.
//   - POST /api/v1/confirmations, GET /api/v1/confirmations?user_id=&meal_type=&from=&to=,
//     GET|DELETE /api/v1/confirmations/{id}: confirmations. A late cancellation
//     responds with status "cancelled_with_fine" and the fine.
//   - POST /api/v1/confirmations/{id}/attendance, POST /api/v1/confirmations/bulk,
//     POST /api/v1/freezes, GET /api/v1/reports/daily?date=: staff operations.
//   - POST /api/v1/qr/profile, POST /api/v1/qr/bookings/{id}: QR issuance.
//   - POST /api/v1/qr/scan: counter scan, mess staff only and rate limited.
//   - GET /api/v1/fines?user_id=, POST /api/v1/fines/{id}/payment,
//     POST /api/v1/fines/{id}/waiver: fines.
//   - POST /api/v1/subscriptions, POST /api/v1/subscriptions/{id}/renewal,
//     POST /api/v1/subscriptions/{id}/suspension,
//     GET /api/v1/subscriptions/coverage?user_id=&meal_type=&date=: subscriptions.
//   - GET|PUT /api/v1/users/{id}: the local user projection.
//   - GET /healthz and GET /metrics.
//
// Request/response DTOs live alongside their respective handlers. Money is
// rendered as a decimal string such as "40.00".
package http
