package runner

import (
	"context"
	"strings"
	"time"
)

// deployVariant evaluates metadata deployment tasks (DEPLOY and the
// PROFILE/PERMISSION_SET aliases): clone, provision an org, then run the
// task's deploy command and inspect the JSON outcome.
type deployVariant struct{}

func (d *deployVariant) Setup(ctx context.Context, env *Env) error {
	if err := cloneAndCheckout(ctx, env); err != nil {
		return err
	}
	return provisionOrg(ctx, env)
}

func (d *deployVariant) Evaluate(ctx context.Context, env *Env) (*Result, error) {
	start := time.Now()

	runResult, err := runValidationCommand(ctx, env, true)
	if err != nil {
		return nil, err
	}

	deployResult, parseErr := cliResult(runResult.Stdout)
	if parseErr != nil {
		deployResult = map[string]any{}
	}

	statusValue, _ := deployResult["status"].(string)
	statusValue = strings.ToLower(statusValue)
	success, _ := deployResult["success"].(bool)

	status := StatusFail
	if statusValue == "succeeded" || success {
		status = StatusPass
	}

	result := newResult(env.Task.InstanceID, status, time.Since(start))
	result.Details = map[string]any{
		"deploy_status":       statusValue,
		"components_deployed": jsonInt(deployResult["numberComponentsDeployed"]),
		"components_total":    jsonInt(deployResult["numberComponentsTotal"]),
	}
	return result, nil
}
