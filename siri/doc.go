// Package siri renders stored realtime state as SIRI (Service Interface for
// Real-time Information) deliveries.
//
// SIRI is a European standard (CEN/TS 15531) for real-time public transport
// information. Two modules are produced:
//
//   - VehicleMonitoringDelivery (VM): vehicle locations matched to their trips
//   - SituationExchangeDelivery (SX): service alerts
//
// References follow the Nordic profile: {codespace}:Line:{route_id},
// {codespace}:Quay:{stop_id}, {codespace}:VehicleRef:{vehicle_id}.
package siri
